package flashsim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/harness"
)

// Logger wraps slog.Logger with simulator-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that writes JSON-formatted logs to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text logs to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// NewLoggerFromConfig builds a logger from the log section of a Config.
func NewLoggerFromConfig(cfg LogConfig, w io.Writer) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return NewTextLogger(w, level), nil
	case "json":
		return NewJSONLogger(w, level), nil
	case "none":
		return NoopLogger(), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// ParseLevel maps debug, info, warn and error to slog levels. The empty
// string means info.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// WithRun tags every record with a run name.
func (l *Logger) WithRun(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run", name),
	}
}

// WithGeometry adds the device geometry fields to the logger.
func (l *Logger) WithGeometry(g blockdevice.Geometry) *Logger {
	return &Logger{
		Logger: l.Logger.With(
			"size", g.Size,
			"read_size", g.ReadSize,
			"program_size", g.ProgramSize,
			"erase_size", g.EraseSize,
		),
	}
}

// LogReport logs the outcome of a harness run.
func (l *Logger) LogReport(ctx context.Context, report harness.Report, err error) {
	if err != nil {
		l.ErrorContext(ctx, "simulation failed",
			"iterations", report.Iterations,
			"checks", report.Checks,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "simulation completed",
		"iterations", report.Iterations,
		"exhausted", report.Exhausted,
		"checks", report.Checks,
	)
}

// LogDeviceStats logs the wear counters of a device.
func (l *Logger) LogDeviceStats(ctx context.Context, stats blockdevice.Stats, worn uint64) {
	l.InfoContext(ctx, "device stats",
		"programs", stats.Programs,
		"erases", stats.Erases,
		"dropped_programs", stats.DroppedPrograms,
		"dropped_erases", stats.DroppedErases,
		"allocated_units", stats.AllocatedUnits,
		"worn_units", worn,
	)
}

// LogImage logs an image load or save.
func (l *Logger) LogImage(ctx context.Context, action, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "image "+action+" failed",
			"image", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "image "+action,
		"image", name,
	)
}
