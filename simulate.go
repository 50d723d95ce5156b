package flashsim

import (
	"context"
	"errors"
	"os"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/blockdevice/image"
	"github.com/hupe1980/flashsim/cowfs"
	"github.com/hupe1980/flashsim/harness"
	"github.com/hupe1980/flashsim/imagestore"
	"github.com/hupe1980/flashsim/internal/resource"
)

// Result describes a finished simulation.
type Result struct {
	Report harness.Report
	// Stats count the device operations of this run only. Per-unit cycle
	// counters of a resumed image carry over; Stats do not.
	Stats   blockdevice.Stats
	FSStats cowfs.Stats
	// WornUnits holds the indices of erase units that reached a limit.
	WornUnits *roaring.Bitmap
	// Resumed is set when the device was loaded from an image.
	Resumed bool
}

// Simulate runs the configured scenarios against cowfs on a fresh or resumed
// exhaustible device. If an image store is configured the device is archived
// after the run, even when the run failed.
//
// The returned Result is valid even when err is non-nil.
func Simulate(ctx context.Context, cfg Config, optFns ...Option) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	o := applyOptions(optFns)

	logger := o.logger
	if logger == nil {
		l, err := NewLoggerFromConfig(cfg.Log, os.Stderr)
		if err != nil {
			return Result{}, err
		}
		logger = l
	}
	logger = logger.WithGeometry(cfg.Device.Geometry())

	compression, err := image.ParseCompression(cfg.Image.Compression)
	if err != nil {
		return Result{}, err
	}

	store := o.store
	if store == nil {
		if store, err = OpenStore(ctx, cfg.Image); err != nil {
			return Result{}, err
		}
	}

	dev, resumed, err := openDevice(ctx, cfg, store, logger)
	if err != nil {
		return Result{}, err
	}

	var target blockdevice.Device = dev
	if cfg.Device.SliceOffset != 0 || cfg.Device.SliceSize != 0 {
		target = blockdevice.NewSlice(target, cfg.Device.SliceOffset, cfg.sliceStop())
	}
	if cfg.Device.IOLimit > 0 {
		rc := resource.NewController(resource.Config{IOLimitBytesPerSec: cfg.Device.IOLimit})
		target = blockdevice.NewThrottled(target, rc)
	}

	fsys := cowfs.New(cowfs.WithLogger(logger.Logger))
	h, err := harness.New(target, fsys, o.registry,
		harness.WithIterations(cfg.Harness.Iterations),
		harness.WithForceFormat(cfg.Harness.ForceFormat),
		harness.WithCheckEachIteration(cfg.Harness.CheckEachIteration),
		harness.WithReadOnlyCheck(cfg.Harness.ReadOnlyCheck),
		harness.WithLogger(logger.Logger),
		harness.WithMetricsCollector(o.metricsCollector),
	)
	if err != nil {
		return Result{}, err
	}

	report, runErr := h.Run(ctx)
	logger.LogReport(ctx, report, runErr)

	res := Result{
		Report:    report,
		Stats:     dev.Stats(),
		FSStats:   fsys.Stats(),
		WornUnits: dev.WornUnits(),
		Resumed:   resumed,
	}
	logger.LogDeviceStats(ctx, res.Stats, res.WornUnits.GetCardinality())

	var saveErr error
	if store != nil {
		// Archive even when ctx was canceled.
		saveErr = imagestore.SaveDevice(context.WithoutCancel(ctx), store, cfg.Image.Name, dev, compression)
		logger.LogImage(ctx, "save", cfg.Image.Name, saveErr)
	}

	return res, errors.Join(translateError(runErr), saveErr)
}

// openDevice loads the configured image if resuming, or builds a blank
// device. The configured cycle limits replace those stored in the image.
func openDevice(ctx context.Context, cfg Config, store imagestore.Store, logger *Logger) (*blockdevice.Exhaustible, bool, error) {
	geo := cfg.Device.Geometry()

	if cfg.Image.Resume && store != nil {
		dev, err := imagestore.LoadDevice(ctx, store, cfg.Image.Name)
		switch {
		case err == nil:
			if dev.Geometry() != geo {
				return nil, false, &ErrGeometryMismatch{Image: dev.Geometry(), Config: geo}
			}
			dev.SetProgramCycles(cfg.Device.ProgramCycles)
			dev.SetEraseCycles(cfg.Device.EraseCycles)
			logger.LogImage(ctx, "load", cfg.Image.Name, nil)
			return dev, true, nil
		case errors.Is(err, imagestore.ErrNotFound):
			logger.InfoContext(ctx, "no image to resume, starting blank", "image", cfg.Image.Name)
		default:
			logger.LogImage(ctx, "load", cfg.Image.Name, err)
			return nil, false, err
		}
	}

	return blockdevice.NewExhaustible(geo,
		blockdevice.WithProgramCycles(cfg.Device.ProgramCycles),
		blockdevice.WithEraseCycles(cfg.Device.EraseCycles),
	), false, nil
}
