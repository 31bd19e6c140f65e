package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/iosweep/iosweep/internal/archive"
	"github.com/iosweep/iosweep/internal/config"
	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/service/campaign"
	"github.com/iosweep/iosweep/internal/storage"
)

func newRunCommand(a *app) *cobra.Command {
	var (
		grid     gridFlags
		output   string
		parquet  string
		logDir   string
		cooldown time.Duration
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark sweep",
		Long: `Run every point of the grid, one MPI job at a time.

A failed run is recorded as a failure row and the sweep goes on. On SIGINT
or SIGTERM the running job is killed and the rows collected so far are
still written.

For ior the block size is 1.5x the node memory divided by the ppn, rounded
down to a multiple of the transfer size. It is passed as whole gigabytes or
megabytes ("48g", "768m") when that is exact, otherwise as the exact m or k
token: 1536 MB becomes "1536m", never "1g" or "2g".`,
		Example: `  iosweep run -b ior --machinefile hosts --num-hosts 1,2,4 --ppn 1,8 \
      --memory 128G --transfer-size 1M,4M -d /mnt/lustre/iosweep --output ior.csv
  iosweep run -b mdtest --machinefile hosts --num-hosts 1,2 --ppn 16 \
      --num-files 100000 -d /mnt/lustre/iosweep --output mdtest.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := grid.options(a.cfg)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			opts.Output = flagOrConfig(flags.Changed("output"), output, a.cfg.Sweep.Output)
			opts.ParquetOutput = flagOrConfig(flags.Changed("parquet"), parquet, a.cfg.Sweep.Parquet)
			opts.LogDir = flagOrConfig(flags.Changed("log-dir"), logDir, a.cfg.Sweep.LogDir)
			if !flags.Changed("cooldown") {
				cooldown = a.cfg.Sweep.Cooldown
			}
			opts.Cooldown = cooldown
			if !flags.Changed("progress") {
				progress = a.cfg.Sweep.Progress
			}

			if err := opts.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runOpts := []campaign.Option{
				campaign.WithLogger(a.logger),
				campaign.WithMetricsTextfile(a.cfg.Metrics.TextfilePath),
			}

			if a.cfg.Database.Path != "" {
				db, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer db.Close()
				runOpts = append(runOpts, campaign.WithStore(storage.NewSweepStore(db)))
			}

			if a.cfg.Archive.Enabled {
				archiver, err := newArchiver(a.cfg.Archive)
				if err != nil {
					return err
				}
				runOpts = append(runOpts, campaign.WithArchiver(archiver))
			}

			if progress {
				runOpts = append(runOpts, campaign.WithProgress(func(total int) campaign.Progress {
					return progressbar.Default(int64(total), "Running grid points:")
				}))
			}

			runner := campaign.New(newLauncher(a.cfg, opts.Interface), launcher.NewExecRunner(), runOpts...)
			res, err := runner.Run(ctx, opts)
			if res != nil {
				printRunSummary(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			if res.Interrupted {
				return fmt.Errorf("sweep %s interrupted after %d of %d grid points", res.SweepID, res.Executed, len(res.Plan.Points))
			}
			return nil
		},
	}

	grid.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&output, "output", "", "CSV file for the result table")
	flags.StringVar(&parquet, "parquet", "", "Parquet file for the result table")
	flags.StringVar(&logDir, "log-dir", "", "directory for per-run logs (default from config)")
	flags.DurationVar(&cooldown, "cooldown", 0, "minimum time between the starts of consecutive runs")
	flags.BoolVar(&progress, "progress", false, "show a progress bar")

	return cmd
}

func flagOrConfig(changed bool, flag, fromConfig string) string {
	if changed {
		return flag
	}
	return fromConfig
}

func newArchiver(cfg config.ArchiveConfig) (*archive.Archiver, error) {
	creds := archive.Credentials{
		Host:       cfg.Host,
		Port:       cfg.Port,
		User:       cfg.User,
		KnownHosts: cfg.KnownHosts,
	}
	if err := creds.LoadKey(cfg.KeyFile); err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive credentials: %w", err)
	}
	return archive.New(creds, cfg.RemoteDir, archive.WithConnectTimeout(cfg.ConnectTimeout)), nil
}

func printRunSummary(w io.Writer, res *campaign.Result) {
	total, failed := res.Table.Runs()
	fmt.Fprintf(w, "Sweep %s (%s)\n", res.SweepID, res.Plan.Mode)
	fmt.Fprintf(w, "  Grid points: %d planned, %d skipped, %d executed\n",
		len(res.Plan.Points), len(res.Plan.Skipped), res.Executed)
	fmt.Fprintf(w, "  Runs:        %d (%d failed)\n", total, failed)
	fmt.Fprintf(w, "  Rows:        %d\n", res.Table.Len())
	if res.CSVPath != "" {
		fmt.Fprintf(w, "  CSV:         %s\n", res.CSVPath)
	}
	if res.ParquetPath != "" {
		fmt.Fprintf(w, "  Parquet:     %s\n", res.ParquetPath)
	}
	fmt.Fprintf(w, "  Duration:    %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Second))
}
