package harness

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/internal/resource"
	"github.com/hupe1980/flashsim/vfs"
)

// MeasureLifetime formats dev, sets the scenarios up and performs until the
// filesystem runs out of space, checking after every iteration. It returns
// the number of iterations that completed without exhaustion.
//
// The iteration budget of opts is ignored; use ctx to bound the run.
func MeasureLifetime(ctx context.Context, dev blockdevice.Device, fsys vfs.FileSystem, reg *Registry, opts ...Option) (int, error) {
	opts = append(opts[:len(opts):len(opts)],
		WithIterations(0),
		WithForceFormat(true),
		WithCheckEachIteration(true),
	)
	h, err := New(dev, fsys, reg, opts...)
	if err != nil {
		return 0, err
	}

	report, err := h.Run(ctx)
	if err != nil {
		return 0, err
	}

	cycles := report.Iterations
	if report.Exhausted {
		cycles--
	}
	return cycles, nil
}

// Lifetime is the result of one MeasureLifetime run.
type Lifetime struct {
	Blocks uint64
	Cycles int
}

// Comparison describes a set of lifetime runs over devices that differ only
// in their number of erase blocks.
type Comparison struct {
	// BlockCounts lists the device sizes, in erase blocks.
	BlockCounts []uint64
	// Geometry gives the unit sizes; its Size is ignored.
	Geometry      blockdevice.Geometry
	ProgramCycles uint32
	EraseCycles   uint32

	// NewFS returns a fresh filesystem for every run.
	NewFS func() vfs.FileSystem
	// Registry is shared by all runs; nil means DefaultRegistry.
	Registry *Registry
	// Controller bounds concurrent runs and the memory of their devices.
	// nil runs everything at once.
	Controller *resource.Controller
	Options    []Option
}

// CompareLifetimes runs MeasureLifetime for every block count concurrently.
// Results are returned in the order of BlockCounts.
func CompareLifetimes(ctx context.Context, c Comparison) ([]Lifetime, error) {
	if c.NewFS == nil {
		return nil, fmt.Errorf("harness: comparison without filesystem factory")
	}
	reg := c.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}

	geos := make([]blockdevice.Geometry, len(c.BlockCounts))
	for i, blocks := range c.BlockCounts {
		geos[i] = c.Geometry
		geos[i].Size = blocks * c.Geometry.EraseSize
		if err := geos[i].Validate(); err != nil {
			return nil, err
		}
	}

	results := make([]Lifetime, len(c.BlockCounts))
	g, gctx := errgroup.WithContext(ctx)

	for i, blocks := range c.BlockCounts {
		geo := geos[i]
		g.Go(func() error {
			rc := c.Controller
			if err := rc.AcquireWorker(gctx); err != nil {
				return err
			}
			defer rc.ReleaseWorker()

			if err := rc.AcquireMemory(gctx, int64(geo.Size)); err != nil {
				return err
			}
			defer rc.ReleaseMemory(int64(geo.Size))

			dev := blockdevice.NewExhaustible(geo,
				blockdevice.WithProgramCycles(c.ProgramCycles),
				blockdevice.WithEraseCycles(c.EraseCycles),
			)
			cycles, err := MeasureLifetime(gctx, dev, c.NewFS(), reg, c.Options...)
			if err != nil {
				return fmt.Errorf("%d blocks: %w", blocks, err)
			}
			results[i] = Lifetime{Blocks: blocks, Cycles: cycles}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
