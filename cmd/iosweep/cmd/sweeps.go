package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/results"
	"github.com/iosweep/iosweep/internal/storage"
)

func newSweepsCommand(a *app) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "sweeps",
		Short: "Inspect recorded sweeps",
		Long:  `List and inspect the sweeps recorded in the sweep database.`,
	}
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")

	cmd.AddCommand(
		newSweepsListCommand(a, &outputFormat),
		newSweepsShowCommand(a, &outputFormat),
		newSweepsDeleteCommand(a),
	)
	return cmd
}

func newSweepsListCommand(a *app, outputFormat *string) *cobra.Command {
	var (
		mode   string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sweeps, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			sweeps, err := storage.NewSweepStore(db).List(cmd.Context(), storage.SweepFilter{
				Mode:   mode,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if *outputFormat == "json" {
				if sweeps == nil {
					sweeps = []*storage.Sweep{}
				}
				return writeJSON(out, struct {
					Sweeps []*storage.Sweep `json:"sweeps"`
					Count  int              `json:"count"`
				}{sweeps, len(sweeps)})
			}

			if len(sweeps) == 0 {
				fmt.Fprintln(out, "No sweeps found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMODE\tSTATUS\tRUNS\tFAILED\tROWS\tSTARTED")
			for _, s := range sweeps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					s.ID, s.Mode, s.Status, s.TotalRuns, s.FailedRuns, s.RowCount, humanize.Time(s.StartedAt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Filter by benchmark (ior, mdtest)")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (running, complete, interrupted, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sweeps")
	return cmd
}

func newSweepsShowCommand(a *app, outputFormat *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show [sweep-id]",
		Short: "Show a sweep and its result rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			store := storage.NewSweepStore(db)
			sweep, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("sweep %s: %w", args[0], err)
			}
			rows, err := store.Rows(cmd.Context(), sweep.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if *outputFormat == "json" {
				return writeJSON(out, struct {
					*storage.Sweep
					Rows []results.Row `json:"rows"`
				}{sweep, rows})
			}

			printSweep(out, sweep, rows)
			return nil
		},
	}
}

func newSweepsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [sweep-id]",
		Short: "Delete a sweep and its rows from the database",
		Long:  `Delete a recorded sweep. Exported files and run logs are left in place.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.NewSweepStore(db).Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("sweep %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted sweep %s\n", args[0])
			return nil
		},
	}
}

func printSweep(out io.Writer, s *storage.Sweep, rows []results.Row) {
	fmt.Fprintf(out, "Sweep: %s\n", s.ID)
	fmt.Fprintf(out, "  Mode:      %s\n", s.Mode)
	fmt.Fprintf(out, "  Status:    %s\n", s.Status)
	if s.Error != "" {
		fmt.Fprintf(out, "  Error:     %s\n", s.Error)
	}
	fmt.Fprintf(out, "  Started:   %s (%s)\n", s.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(s.StartedAt))
	if s.FinishedAt != nil {
		fmt.Fprintf(out, "  Finished:  %s\n", s.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "  Runs:      %d (%d failed), %d points skipped\n", s.TotalRuns, s.FailedRuns, s.SkippedPoints)
	fmt.Fprintf(out, "  Nodes:     %s\n", joinInts(s.Parameters.NodeCounts))
	fmt.Fprintf(out, "  PPN:       %s\n", joinInts(s.Parameters.PPNs))
	if len(s.Parameters.TransferSizes) > 0 {
		fmt.Fprintf(out, "  Transfers: %s\n", strings.Join(s.Parameters.TransferSizes, ","))
	}
	if s.CSVPath != "" {
		fmt.Fprintf(out, "  CSV:       %s\n", s.CSVPath)
	}
	if s.ParquetPath != "" {
		fmt.Fprintf(out, "  Parquet:   %s\n", s.ParquetPath)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "\nNo result rows.")
		return
	}

	mode := launcher.Mode(s.Mode)
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(results.Columns(mode), "\t")))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r.Values(mode), "\t"))
	}
	w.Flush()
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
