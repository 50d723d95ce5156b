package cli

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/flashsim"
	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/cowfs"
	"github.com/hupe1980/flashsim/harness"
	"github.com/hupe1980/flashsim/internal/resource"
	"github.com/hupe1980/flashsim/vfs"
)

type lifetimeFlags struct {
	blocks        []uint
	readSize      uint64
	programSize   uint64
	eraseSize     uint64
	eraseCycles   uint32
	programCycles uint32
	workers       int64
	memoryLimit   int64
	timeout       time.Duration
	logLevel      string
}

func newLifetimeCommand() *cobra.Command {
	f := &lifetimeFlags{}

	cmd := &cobra.Command{
		Use:   "lifetime",
		Short: "Compare how long cowfs survives on devices of different sizes",
		Long: `Measure, for every block count, how many iterations cowfs completes on a
freshly formatted device before it runs out of space. Devices differ only
in their number of erase blocks and are measured concurrently.

Examples:
  flashsim lifetime --blocks 16,32,64 --erase-cycles 10
  flashsim lifetime --blocks 256 --erase-cycles 100 --timeout 1m`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLifetime(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.UintSliceVar(&f.blocks, "blocks", []uint{16, 32}, "device sizes in erase blocks")
	fl.Uint64Var(&f.readSize, "read-size", blockdevice.DefaultReadSize, "read unit in bytes")
	fl.Uint64Var(&f.programSize, "program-size", blockdevice.DefaultProgramSize, "program unit in bytes")
	fl.Uint64Var(&f.eraseSize, "erase-size", blockdevice.DefaultEraseSize, "erase unit in bytes")
	fl.Uint32Var(&f.eraseCycles, "erase-cycles", 10, "erases per erase unit; 0 is unlimited")
	fl.Uint32Var(&f.programCycles, "program-cycles", 0, "programs per program unit; 0 is unlimited")
	fl.Int64Var(&f.workers, "workers", int64(runtime.NumCPU()), "concurrent measurements")
	fl.Int64Var(&f.memoryLimit, "memory-limit", 0, "bytes of simulated medium held at once; 0 is unlimited")
	fl.DurationVar(&f.timeout, "timeout", 0, "abort after this long; 0 waits for exhaustion")
	fl.StringVar(&f.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	return cmd
}

func runLifetime(cmd *cobra.Command, f *lifetimeFlags) error {
	if len(f.blocks) == 0 {
		return &UsageError{Err: errors.New("--blocks is empty")}
	}
	if f.eraseCycles == 0 && f.programCycles == 0 && f.timeout == 0 {
		return &UsageError{Err: errors.New("unlimited cycles never exhaust; set --erase-cycles, --program-cycles or --timeout")}
	}

	logger, err := flashsim.NewLoggerFromConfig(flashsim.LogConfig{Level: f.logLevel}, cmd.ErrOrStderr())
	if err != nil {
		return &UsageError{Err: err}
	}

	ctx := cmd.Context()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	counts := make([]uint64, len(f.blocks))
	for i, b := range f.blocks {
		counts[i] = uint64(b)
		if f.memoryLimit > 0 && counts[i]*f.eraseSize > uint64(f.memoryLimit) {
			return &UsageError{Err: fmt.Errorf("--memory-limit %d is below the %d-block device", f.memoryLimit, b)}
		}
	}

	results, err := harness.CompareLifetimes(ctx, harness.Comparison{
		BlockCounts: counts,
		Geometry: blockdevice.Geometry{
			ReadSize:    f.readSize,
			ProgramSize: f.programSize,
			EraseSize:   f.eraseSize,
		},
		ProgramCycles: f.programCycles,
		EraseCycles:   f.eraseCycles,
		NewFS: func() vfs.FileSystem {
			return cowfs.New(cowfs.WithLogger(logger.Logger))
		},
		Controller: resource.NewController(resource.Config{
			MaxWorkers:       f.workers,
			MemoryLimitBytes: f.memoryLimit,
		}),
		Options: []harness.Option{harness.WithLogger(logger.Logger)},
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCKS\tBYTES\tCYCLES\tRELATIVE")
	for _, r := range results {
		rel := "-"
		if results[0].Cycles > 0 {
			rel = fmt.Sprintf("%.2f", float64(r.Cycles)/float64(results[0].Cycles))
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", r.Blocks, r.Blocks*f.eraseSize, r.Cycles, rel)
	}
	return tw.Flush()
}
