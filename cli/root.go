/*
Package cli implements the tracker command line.

COMMANDS:
  serve    run the HTTP API with background refresh and cleanup
  probe    check the remote store and report the sync state
  purge    remove delivered records of a day now
  export   write a JSON backup or CSV export to stdout or a file

GLOBAL FLAGS:
  --config   YAML configuration file (defaults are used when omitted)
  --verbose  debug logging

SEE ALSO:
  - config/config.go: configuration keys and environment overrides
  - api/server.go: the HTTP surface started by serve
*/
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the tracker CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Delivery tracker",
		Long: `Tracks daily deliveries for a set of stores against a remote SQL store,
with a local cache that keeps working while the remote is unreachable.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("TRACKER_CONFIG"), "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}
