package harness

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting harness metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordSetup is called after the setup phase of each scenario.
	RecordSetup(scenario string, duration time.Duration, err error)

	// RecordPerform is called after each perform action.
	RecordPerform(scenario string, duration time.Duration, exhausted bool, err error)

	// RecordCheck is called after each check action. err is the invariant
	// violation, if any.
	RecordCheck(scenario string, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSetup(string, time.Duration, error)         {}
func (NoopMetricsCollector) RecordPerform(string, time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordCheck(string, time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// It aggregates over all scenarios.
type BasicMetricsCollector struct {
	SetupCount        atomic.Int64
	SetupErrors       atomic.Int64
	PerformCount      atomic.Int64
	PerformErrors     atomic.Int64
	PerformExhausted  atomic.Int64
	PerformTotalNanos atomic.Int64
	CheckCount        atomic.Int64
	CheckFailures     atomic.Int64
	CheckTotalNanos   atomic.Int64
}

// RecordSetup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSetup(_ string, _ time.Duration, err error) {
	b.SetupCount.Add(1)
	if err != nil {
		b.SetupErrors.Add(1)
	}
}

// RecordPerform implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPerform(_ string, duration time.Duration, exhausted bool, err error) {
	b.PerformCount.Add(1)
	b.PerformTotalNanos.Add(duration.Nanoseconds())
	if exhausted {
		b.PerformExhausted.Add(1)
	}
	if err != nil {
		b.PerformErrors.Add(1)
	}
}

// RecordCheck implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheck(_ string, duration time.Duration, err error) {
	b.CheckCount.Add(1)
	b.CheckTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CheckFailures.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SetupCount:       b.SetupCount.Load(),
		SetupErrors:      b.SetupErrors.Load(),
		PerformCount:     b.PerformCount.Load(),
		PerformErrors:    b.PerformErrors.Load(),
		PerformExhausted: b.PerformExhausted.Load(),
		PerformAvgNanos:  avg(b.PerformTotalNanos.Load(), b.PerformCount.Load()),
		CheckCount:       b.CheckCount.Load(),
		CheckFailures:    b.CheckFailures.Load(),
		CheckAvgNanos:    avg(b.CheckTotalNanos.Load(), b.CheckCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SetupCount       int64
	SetupErrors      int64
	PerformCount     int64
	PerformErrors    int64
	PerformExhausted int64
	PerformAvgNanos  int64
	CheckCount       int64
	CheckFailures    int64
	CheckAvgNanos    int64
}
