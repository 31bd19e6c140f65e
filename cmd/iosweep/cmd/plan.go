package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/service/campaign"
	"github.com/iosweep/iosweep/internal/sweep"
	"github.com/iosweep/iosweep/internal/units"
)

func newPlanCommand(a *app) *cobra.Command {
	var (
		grid         gridFlags
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the grid of a sweep without running it",
		Long: `Enumerate the grid exactly as "iosweep run" would, including the derived
block sizes and file counts and the points that would be skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := grid.options(a.cfg)
			if err != nil {
				return err
			}
			if opts.Workdir == "" {
				// nothing is written while planning
				opts.Workdir = "."
			}

			plan, nodes, err := campaign.Prepare(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputFormat == "json" {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(plan)
			}

			fmt.Fprintf(out, "Mode: %s, %d hosts in %s\n", plan.Mode, len(nodes), opts.Machinefile)
			if plan.Mode == launcher.ModeIOR {
				mb, err := units.ParseRelativeSize(opts.Memory)
				if err == nil {
					fmt.Fprintf(out, "Memory per node: %s\n", units.Humanize(mb))
				}
			}
			fmt.Fprintln(out)
			printPlan(out, plan)
			return nil
		},
	}

	grid.register(cmd)
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func printPlan(out io.Writer, plan *sweep.Plan) {
	if len(plan.Points) == 0 {
		fmt.Fprintln(out, "No runnable grid points.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		switch plan.Mode {
		case launcher.ModeIOR:
			fmt.Fprintln(w, "#\tNODES\tPPN\tTRANSFER\tBLOCK\tBLOCK/PROC")
			for _, p := range plan.Points {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
					p.Index, p.NodeCount, p.PPN, p.TransferSize, p.BlockSize, units.Humanize(p.BlockMB))
			}
		case launcher.ModeMDTest:
			fmt.Fprintln(w, "#\tNODES\tPPN\tFILES/PROC\tTOTAL FILES\tTARGET")
			for _, p := range plan.Points {
				fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n",
					p.Index, p.NodeCount, p.PPN, p.FilesPerProc, p.TotalFiles, p.TargetFiles)
			}
		}
		w.Flush()
	}

	if len(plan.Skipped) == 0 {
		return
	}

	fmt.Fprintf(out, "\nSkipped (%d):\n", len(plan.Skipped))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODES\tPPN\tTRANSFER\tREASON\tDETAIL")
	for _, s := range plan.Skipped {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.NodeCount, orDash(s.PPN), dashIfEmpty(s.TransferSize), s.Reason, s.Detail)
	}
	w.Flush()
}

func orDash(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
