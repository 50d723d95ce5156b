package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  exactArgs(0),
		Run: func(cmd *cobra.Command, _ []string) {
			v, c := resolveVersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "flashsim %s (%s) %s/%s\n", v, c, runtime.GOOS, runtime.GOARCH)
		},
	}
}

// resolveVersionInfo prefers ldflags and falls back to the module build info.
func resolveVersionInfo() (string, string) {
	v, c := version, commit
	if v != "dev" {
		return v, c
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v, c
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && c == "unknown" {
			c = s.Value
		}
	}
	return v, c
}
