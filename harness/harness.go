package harness

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/vfs"
)

// DefaultIterations is the perform budget of a run.
const DefaultIterations = 100

type options struct {
	iterations         int
	forceFormat        bool
	checkEachIteration bool
	readOnlyCheck      bool
	logger             *slog.Logger
	metricsCollector   MetricsCollector
}

// Option configures a Harness.
type Option func(*options)

// WithIterations sets the perform budget. Zero runs until the filesystem
// reports exhaustion or the context is canceled.
func WithIterations(n int) Option {
	return func(o *options) {
		o.iterations = max(0, n)
	}
}

// WithForceFormat formats the device during provisioning even if it already
// holds a mountable filesystem.
func WithForceFormat(force bool) Option {
	return func(o *options) {
		o.forceFormat = force
	}
}

// WithCheckEachIteration runs the check phase after every perform iteration
// instead of only once after the loop.
func WithCheckEachIteration(each bool) Option {
	return func(o *options) {
		o.checkEachIteration = each
	}
}

// WithReadOnlyCheck mounts the filesystem through blockdevice.ReadOnly for
// the check phase, so a check that writes panics.
func WithReadOnlyCheck(ro bool) Option {
	return func(o *options) {
		o.readOnlyCheck = ro
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// Report summarizes a run.
type Report struct {
	// Iterations is the number of perform iterations executed, including
	// the one that reported exhaustion.
	Iterations int
	// Exhausted is set when a scenario reported that the filesystem ran out
	// of space.
	Exhausted bool
	// Checks is the number of check phases that passed.
	Checks int
}

// Harness runs a registry of scenarios against one filesystem on one device.
// It is not safe for concurrent use.
type Harness struct {
	dev  blockdevice.Device
	fsys vfs.FileSystem
	reg  *Registry
	opts options
}

// New creates a harness. A nil registry means DefaultRegistry.
func New(dev blockdevice.Device, fsys vfs.FileSystem, reg *Registry, optFns ...Option) (*Harness, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if reg.Len() == 0 {
		return nil, ErrEmptyRegistry
	}

	o := options{
		iterations:       DefaultIterations,
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	return &Harness{dev: dev, fsys: fsys, reg: reg, opts: o}, nil
}

// Provision mounts the filesystem, formatting the device first if forced or
// if the mount fails. The filesystem is left mounted.
func (h *Harness) Provision() error {
	if !h.opts.forceFormat {
		err := h.fsys.Mount(h.dev)
		if err == nil {
			return nil
		}
		h.opts.logger.Info("mount failed, formatting", "error", err)
	}

	if err := h.fsys.Format(h.dev); err != nil {
		return &PhaseError{Phase: "format", Err: err}
	}
	if err := h.fsys.Mount(h.dev); err != nil {
		return &PhaseError{Phase: "mount", Err: err}
	}
	return nil
}

// Setup provisions the filesystem, runs every scenario's setup and unmounts.
func (h *Harness) Setup() error {
	if err := h.Provision(); err != nil {
		return err
	}

	var err error
	for _, s := range h.reg.scenarios {
		start := time.Now()
		err = s.Setup(h.fsys)
		h.opts.metricsCollector.RecordSetup(s.Name, time.Since(start), err)
		if err != nil {
			err = &PhaseError{Phase: "setup", Scenario: s.Name, Err: err}
			break
		}
		h.opts.logger.Debug("setup done", "scenario", s.Name)
	}
	return h.unmount(err, 0)
}

// PerformIteration mounts the filesystem, runs every scenario's perform
// action and unmounts. Every scenario runs even after an earlier one
// reported exhaustion. iteration is only used for reporting.
func (h *Harness) PerformIteration(iteration int) (exhausted bool, err error) {
	if err := h.fsys.Mount(h.dev); err != nil {
		return false, &PhaseError{Phase: "mount", Iteration: iteration, Err: err}
	}

	for _, s := range h.reg.scenarios {
		start := time.Now()
		ex, perr := s.Perform(h.fsys)
		h.opts.metricsCollector.RecordPerform(s.Name, time.Since(start), ex, perr)
		if perr != nil {
			err = &PhaseError{Phase: "perform", Scenario: s.Name, Iteration: iteration, Err: perr}
			break
		}
		if ex {
			h.opts.logger.Debug("out of space", "scenario", s.Name, "iteration", iteration)
		}
		exhausted = exhausted || ex
	}
	return exhausted, h.unmount(err, iteration)
}

// Check mounts the filesystem and runs every scenario's check. All checks
// run; violations are returned joined, each as an *InvariantError.
func (h *Harness) Check(iteration int) error {
	dev := h.dev
	if h.opts.readOnlyCheck {
		dev = blockdevice.NewReadOnly(dev)
	}
	if err := h.fsys.Mount(dev); err != nil {
		return &PhaseError{Phase: "check mount", Iteration: iteration, Err: err}
	}

	var violations []error
	for _, s := range h.reg.scenarios {
		start := time.Now()
		err := s.Check(h.fsys)
		h.opts.metricsCollector.RecordCheck(s.Name, time.Since(start), err)
		if err != nil {
			h.opts.logger.Error("invariant violated", "scenario", s.Name, "iteration", iteration, "error", err)
			violations = append(violations, &InvariantError{Scenario: s.Name, Iteration: iteration, Err: err})
		}
	}
	return h.unmount(errors.Join(violations...), iteration)
}

// Run executes setup, the perform loop and the check phase. The context is
// consulted between iterations only.
func (h *Harness) Run(ctx context.Context) (Report, error) {
	var report Report

	h.opts.logger.Info("run started",
		"scenarios", h.reg.Names(),
		"iterations", h.opts.iterations,
		"force_format", h.opts.forceFormat,
	)

	if err := h.Setup(); err != nil {
		return report, err
	}

	checked := false
	for i := 1; h.opts.iterations == 0 || i <= h.opts.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		exhausted, err := h.PerformIteration(i)
		if err != nil {
			return report, err
		}
		report.Iterations = i
		report.Exhausted = exhausted
		h.opts.logger.Debug("iteration done", "iteration", i, "exhausted", exhausted)

		checked = false
		if h.opts.checkEachIteration {
			if err := h.Check(i); err != nil {
				return report, err
			}
			report.Checks++
			checked = true
		}
		if exhausted {
			break
		}
	}

	if !checked {
		if err := h.Check(report.Iterations); err != nil {
			return report, err
		}
		report.Checks++
	}

	h.opts.logger.Info("run finished",
		"iterations", report.Iterations,
		"exhausted", report.Exhausted,
		"checks", report.Checks,
	)
	return report, nil
}

// unmount unmounts the filesystem and returns err, or the unmount error if
// err is nil.
func (h *Harness) unmount(err error, iteration int) error {
	if uerr := h.fsys.Unmount(); uerr != nil && err == nil {
		return &PhaseError{Phase: "unmount", Iteration: iteration, Err: uerr}
	}
	return err
}
