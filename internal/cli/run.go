package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/flashsim"
	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/cowfs"
)

type runFlags struct {
	config        string
	iterations    int
	size          uint64
	eraseCycles   uint32
	programCycles uint32
	ioLimit       int64
	forceFormat   bool
	checkEach     bool
	readOnlyCheck bool
	imageBackend  string
	imageDir      string
	imageName     string
	imageBucket   string
	imagePrefix   string
	imageEndpoint string
	compression   string
	resume        bool
	logLevel      string
	logFormat     string
	json          bool
}

func newRunCommand() *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scenarios against cowfs on a simulated device",
		Long: `Run the built-in scenarios against cowfs on a simulated flash part.

Settings come from the defaults, then the --config file, then explicitly
set flags.

Examples:
  # Reference scenario: 128 KiB, 100 erase cycles, 100 iterations
  flashsim run

  # Wear the part out, archiving the image between runs
  flashsim run --iterations 0 --image-dir ./images --resume

  # Settings from a file, with JSON output
  flashsim run --config flashsim.yaml --json`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, f)
		},
	}

	def := flashsim.DefaultConfig()
	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML config file")
	fl.IntVarP(&f.iterations, "iterations", "n", def.Harness.Iterations, "perform iterations; 0 runs until exhaustion")
	fl.Uint64Var(&f.size, "size", def.Device.Size, "device size in bytes")
	fl.Uint32Var(&f.eraseCycles, "erase-cycles", def.Device.EraseCycles, "erases per erase unit; 0 is unlimited")
	fl.Uint32Var(&f.programCycles, "program-cycles", def.Device.ProgramCycles, "programs per program unit; 0 is unlimited")
	fl.Int64Var(&f.ioLimit, "io-limit", 0, "program/erase throughput in bytes per second; 0 is unlimited")
	fl.BoolVar(&f.forceFormat, "force-format", def.Harness.ForceFormat, "format even if the device holds a filesystem")
	fl.BoolVar(&f.checkEach, "check-each", def.Harness.CheckEachIteration, "check after every iteration")
	fl.BoolVar(&f.readOnlyCheck, "read-only-check", def.Harness.ReadOnlyCheck, "mount read-only for checks")
	fl.StringVar(&f.imageBackend, "image-backend", flashsim.BackendLocal, "image store: local, s3, minio")
	fl.StringVar(&f.imageDir, "image-dir", "", "directory for device images")
	fl.StringVar(&f.imageBucket, "image-bucket", "", "bucket of the s3 and minio backends")
	fl.StringVar(&f.imagePrefix, "image-prefix", "", "key prefix of the s3 and minio backends")
	fl.StringVar(&f.imageEndpoint, "image-endpoint", "", "endpoint of the minio backend, or a custom s3 endpoint")
	fl.StringVar(&f.imageName, "image-name", def.Image.Name, "image file name")
	fl.StringVar(&f.compression, "compression", def.Image.Compression, "image compression: none, lz4, zstd")
	fl.BoolVar(&f.resume, "resume", false, "load the image before running")
	fl.StringVar(&f.logLevel, "log-level", def.Log.Level, "log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", def.Log.Format, "log format: text, json, none")
	fl.BoolVar(&f.json, "json", false, "print the result as JSON")

	return cmd
}

func runRun(cmd *cobra.Command, f *runFlags) error {
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		return err
	}

	logger, err := flashsim.NewLoggerFromConfig(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	res, runErr := flashsim.Simulate(cmd.Context(), cfg, flashsim.WithLogger(logger))
	if res.WornUnits != nil {
		if err := printResult(cmd.OutOrStdout(), res, f.json); err != nil {
			return err
		}
	}
	return runErr
}

// resolveConfig layers the config file and changed flags over the defaults.
func resolveConfig(cmd *cobra.Command, f *runFlags) (flashsim.Config, error) {
	cfg := flashsim.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = flashsim.LoadConfig(f.config); err != nil {
			return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, f.config, err)
		}
	}

	fl := cmd.Flags()
	set := func(name string, apply func()) {
		if fl.Changed(name) {
			apply()
		}
	}
	set("iterations", func() { cfg.Harness.Iterations = f.iterations })
	set("size", func() { cfg.Device.Size = f.size })
	set("erase-cycles", func() { cfg.Device.EraseCycles = f.eraseCycles })
	set("program-cycles", func() { cfg.Device.ProgramCycles = f.programCycles })
	set("io-limit", func() { cfg.Device.IOLimit = f.ioLimit })
	set("force-format", func() { cfg.Harness.ForceFormat = f.forceFormat })
	set("check-each", func() { cfg.Harness.CheckEachIteration = f.checkEach })
	set("read-only-check", func() { cfg.Harness.ReadOnlyCheck = f.readOnlyCheck })
	set("image-backend", func() { cfg.Image.Backend = f.imageBackend })
	set("image-dir", func() { cfg.Image.Dir = f.imageDir })
	set("image-bucket", func() { cfg.Image.Bucket = f.imageBucket })
	set("image-prefix", func() { cfg.Image.Prefix = f.imagePrefix })
	set("image-endpoint", func() { cfg.Image.Endpoint = f.imageEndpoint })
	set("image-name", func() { cfg.Image.Name = f.imageName })
	set("compression", func() { cfg.Image.Compression = f.compression })
	set("resume", func() { cfg.Image.Resume = f.resume })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-format", func() { cfg.Log.Format = f.logFormat })

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

type runSummary struct {
	Iterations int               `json:"iterations"`
	Exhausted  bool              `json:"exhausted"`
	Checks     int               `json:"checks"`
	Resumed    bool              `json:"resumed"`
	Device     blockdevice.Stats `json:"device"`
	FS         cowfs.Stats       `json:"fs"`
	WornUnits  []uint32          `json:"worn_units"`
}

func printResult(w io.Writer, res flashsim.Result, asJSON bool) error {
	s := runSummary{
		Iterations: res.Report.Iterations,
		Exhausted:  res.Report.Exhausted,
		Checks:     res.Report.Checks,
		Resumed:    res.Resumed,
		Device:     res.Stats,
		FS:         res.FSStats,
		WornUnits:  res.WornUnits.ToArray(),
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "iterations:  %d\n", s.Iterations)
	fmt.Fprintf(w, "exhausted:   %t\n", s.Exhausted)
	fmt.Fprintf(w, "checks:      %d\n", s.Checks)
	fmt.Fprintf(w, "resumed:     %t\n", s.Resumed)
	fmt.Fprintf(w, "programs:    %d (%d dropped)\n", s.Device.Programs, s.Device.DroppedPrograms)
	fmt.Fprintf(w, "erases:      %d (%d dropped)\n", s.Device.Erases, s.Device.DroppedErases)
	fmt.Fprintf(w, "commits:     %d (%d failed)\n", s.FS.Commits, s.FS.FailedCommits)
	fmt.Fprintf(w, "bad blocks:  %d\n", s.FS.BadBlocks)
	fmt.Fprintf(w, "worn units:  %d\n", len(s.WornUnits))
	return nil
}
