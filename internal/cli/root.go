// Package cli implements the flashsim command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the flashsim command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "flashsim",
		Short: "Flash wear simulator for filesystem crash-safety testing",
		Long: `flashsim drives a filesystem on a simulated flash part whose erase and
program units silently stop accepting writes once they wear out, and checks
after every remount that the filesystem kept its guarantees.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Invariant violated`,
		SilenceUsage: true,
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	root.AddCommand(
		newRunCommand(),
		newLifetimeCommand(),
		newInspectCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
}
