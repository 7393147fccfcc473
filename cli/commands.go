package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/delivery-tracker/cleanup"
	"github.com/warp/delivery-tracker/export"
	"github.com/warp/delivery-tracker/tracker"
)

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check the remote store and print the sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Reconnect(cmd.Context()); err != nil {
				slog.Warn("remote unreachable", "error", err)
			}
			return printJSON(cmd.OutOrStdout(), a.engine.State(cmd.Context()))
		},
	}
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove delivered records of a day",
		Long: `Removes every delivered record of a day (today by default) from the
remote store and the cache. Records whose delete cannot be verified are
skipped and counted as remaining.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.start(cmd.Context()); err != nil {
				return err
			}

			day := a.engine.Today()
			if date != "" {
				if day, err = tracker.ParseDay(date); err != nil {
					return err
				}
			}
			res, err := cleanup.New(a.engine, a.cfg.Cleanup.Hour).Force(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d, remaining %d\n", day, res.Removed, res.Remaining)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to purge (YYYY-MM-DD), defaults to today")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		format string
		from   string
		to     string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export data as a JSON backup or CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("invalid format %q: must be json or csv", format)
			}
			var rng export.Range
			var err error
			if from != "" {
				if rng.From, err = tracker.ParseDay(from); err != nil {
					return err
				}
			}
			if to != "" {
				if rng.To, err = tracker.ParseDay(to); err != nil {
					return err
				}
			}

			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.start(cmd.Context()); err != nil {
				return err
			}

			daily, err := a.engine.GetDailyData(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if format == "csv" {
				n, err := export.WriteCSV(w, daily, rng)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d deliveries\n", n)
				return nil
			}

			stores, err := a.engine.GetStores(cmd.Context())
			if err != nil {
				return err
			}
			return export.WriteJSON(w, export.NewBackup(daily, stores, a.engine.Now()))
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format (json|csv)")
	cmd.Flags().StringVar(&from, "from", "", "first day of a CSV export (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day of a CSV export (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
