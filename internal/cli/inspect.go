package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/flashsim"
	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/blockdevice/image"
	"github.com/hupe1980/flashsim/cowfs"
)

type inspectFlags struct {
	config string
	units  bool
	files  bool
}

func newInspectCommand() *cobra.Command {
	f := &inspectFlags{}

	cmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Print the geometry, counters and worn units of a device image",
		Long: `Print what a device image holds.

Examples:
  flashsim inspect ./images/device.img
  flashsim inspect ./images/device.img --units --files

  # Fetch the image from the store of a config file
  flashsim inspect device.img --config flashsim.yaml`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readImage(cmd.Context(), args[0], f.config)
			if err != nil {
				return err
			}
			return runInspect(cmd.OutOrStdout(), args[0], data, f)
		},
	}

	cmd.Flags().StringVarP(&f.config, "config", "c", "", "read the image from the store configured in this file")
	cmd.Flags().BoolVar(&f.units, "units", false, "list the cycle counters of every erase unit")
	cmd.Flags().BoolVar(&f.files, "files", false, "mount the image read-only and list its files")
	return cmd
}

// readImage reads path from disk, or the image named path from the store of
// the config file.
func readImage(ctx context.Context, path, configPath string) ([]byte, error) {
	if configPath == "" {
		return os.ReadFile(path)
	}

	cfg, err := flashsim.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, configPath, err)
	}
	store, err := flashsim.OpenStore(ctx, cfg.Image)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: %s configures no image store", ErrInvalidConfig, configPath)
	}
	return store.Get(ctx, path)
}

func runInspect(w io.Writer, path string, data []byte, f *inspectFlags) error {
	h, err := image.ReadHeader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	dev, err := image.Load(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	geo := dev.Geometry()
	stats := dev.Stats()
	worn := dev.WornUnits()

	fmt.Fprintf(w, "image:        %s\n", path)
	fmt.Fprintf(w, "version:      %d\n", h.Version)
	fmt.Fprintf(w, "compression:  %s (%d -> %d bytes)\n", h.Compression, h.RawLen, h.StoredLen)
	fmt.Fprintf(w, "geometry:     size=%d read=%d program=%d erase=%d\n", geo.Size, geo.ReadSize, geo.ProgramSize, geo.EraseSize)
	fmt.Fprintf(w, "limits:       program=%s erase=%s\n", limit(dev.ProgramLimit()), limit(dev.EraseLimit()))
	fmt.Fprintf(w, "programs:     %d (%d dropped)\n", stats.Programs, stats.DroppedPrograms)
	fmt.Fprintf(w, "erases:       %d (%d dropped)\n", stats.Erases, stats.DroppedErases)
	fmt.Fprintf(w, "allocated:    %d/%d units\n", stats.AllocatedUnits, geo.EraseUnits())
	fmt.Fprintf(w, "worn units:   %d %v\n", worn.GetCardinality(), worn.ToArray())

	if f.units {
		if err := printUnits(w, dev); err != nil {
			return err
		}
	}
	if f.files {
		return printFiles(w, dev)
	}
	return nil
}

func limit(n uint32) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

func printUnits(w io.Writer, dev *blockdevice.Exhaustible) error {
	geo := dev.Geometry()
	perErase := geo.EraseSize / geo.ProgramSize

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tERASES\tMAX PROGRAMS\tALLOCATED")
	for i := range geo.EraseUnits() {
		var programs uint32
		for j := i * perErase; j < (i+1)*perErase; j++ {
			programs = max(programs, dev.ProgramCycles(j))
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%t\n", i, dev.EraseCycles(i), programs, dev.Allocated(i))
	}
	return tw.Flush()
}

func printFiles(w io.Writer, dev *blockdevice.Exhaustible) error {
	fsys := cowfs.New()
	if err := fsys.Mount(blockdevice.NewReadOnly(dev)); err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer fsys.Unmount()

	names, err := fsys.Names()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "snapshot:     seq %d\n", fsys.Stats().Seq)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSIZE")
	for _, name := range names {
		fi, err := fsys.Stat(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\n", name, fi.Size())
	}
	return tw.Flush()
}
