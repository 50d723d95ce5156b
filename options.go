package flashsim

import (
	"github.com/hupe1980/flashsim/harness"
	"github.com/hupe1980/flashsim/imagestore"
)

type options struct {
	logger           *Logger
	metricsCollector harness.MetricsCollector
	store            imagestore.Store
	registry         *harness.Registry
}

// Option configures Simulate.
type Option func(*options)

// WithLogger configures structured logging. If not set, a logger is built
// from Config.Log writing to stderr.
//
// Example with JSON logging:
//
//	logger := flashsim.NewJSONLogger(os.Stderr, slog.LevelDebug)
//	res, _ := flashsim.Simulate(ctx, cfg, flashsim.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsCollector receives per-scenario timings from the harness.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &harness.BasicMetricsCollector{}
//	_, _ = flashsim.Simulate(ctx, cfg, flashsim.WithMetricsCollector(metrics))
//	stats := metrics.GetStats()
//	fmt.Printf("Performs: %d, Avg latency: %dns\n", stats.PerformCount, stats.PerformAvgNanos)
func WithMetricsCollector(mc harness.MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithStore sets the image store. It takes precedence over Config.Image.
func WithStore(s imagestore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithRegistry replaces the default scenarios.
func WithRegistry(reg *harness.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: harness.NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.metricsCollector == nil {
		o.metricsCollector = harness.NoopMetricsCollector{}
	}
	return o
}
