// Package campaign runs a benchmark sweep end to end: it enumerates the
// grid, launches each point under the MPI launcher one at a time, keeps the
// raw output, aggregates the extracted metrics and exports the table.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/logging"
	"github.com/iosweep/iosweep/internal/metrics"
	"github.com/iosweep/iosweep/internal/results"
	"github.com/iosweep/iosweep/internal/storage"
	"github.com/iosweep/iosweep/internal/sweep"
	"github.com/iosweep/iosweep/internal/units"
)

var errInterrupted = errors.New("sweep interrupted")

// Recorder persists sweeps and their rows.
type Recorder interface {
	Create(ctx context.Context, sweep *storage.Sweep) error
	AddRows(ctx context.Context, sweepID string, rows []results.Row) error
	Finish(ctx context.Context, sweep *storage.Sweep) error
}

// Archiver copies finished sweep artifacts somewhere else.
type Archiver interface {
	Archive(ctx context.Context, sweepID string, files []string) error
}

// Progress is advanced once per executed grid point.
type Progress interface {
	Add(n int) error
}

// ProgressFunc creates a progress reporter for a sweep of total points.
type ProgressFunc func(total int) Progress

// Result is the outcome of a sweep. It is returned for interrupted and
// aborted sweeps too, holding the rows gathered until then.
type Result struct {
	SweepID     string
	Plan        *sweep.Plan
	Table       *results.Table
	Executed    int
	Interrupted bool
	LogPaths    []string
	CSVPath     string
	ParquetPath string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Runner executes sweeps. Only one process runs at a time.
type Runner struct {
	launcher       *launcher.Launcher
	exec           launcher.Runner
	store          Recorder
	archiver       Archiver
	progress       ProgressFunc
	logger         *slog.Logger
	textfile       string
	machinefileDir string
	now            func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithStore persists every sweep and its rows.
func WithStore(store Recorder) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithArchiver uploads exported files and run logs after each sweep.
func WithArchiver(a Archiver) Option {
	return func(r *Runner) {
		r.archiver = a
	}
}

// WithProgress reports progress per executed grid point.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetricsTextfile writes the Prometheus metrics to path after each sweep.
func WithMetricsTextfile(path string) Option {
	return func(r *Runner) {
		r.textfile = path
	}
}

// WithMachinefileDir sets where temporary machinefiles are created.
func WithMachinefileDir(dir string) Option {
	return func(r *Runner) {
		r.machinefileDir = dir
	}
}

// WithClock overrides the time source used for run log stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a Runner that builds command lines with l and executes them
// with exec.
func New(l *launcher.Launcher, exec launcher.Runner, opts ...Option) *Runner {
	r := &Runner{
		launcher: l,
		exec:     exec,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Prepare validates the options, reads the node list and enumerates the
// grid. Nothing is executed.
func Prepare(opts sweep.Options) (*sweep.Plan, []string, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	nodes, err := sweep.LoadNodeList(opts.Machinefile)
	if err != nil {
		return nil, nil, err
	}
	if len(nodes) == 0 {
		return nil, nil, fmt.Errorf("node list %s has no hosts", opts.Machinefile)
	}

	params, err := opts.Params(len(nodes))
	if err != nil {
		return nil, nil, err
	}

	plan, err := sweep.Enumerate(params)
	if err != nil {
		return nil, nil, err
	}
	return plan, nodes, nil
}

// Run executes the sweep described by opts. Configuration problems are
// returned before anything runs. Failed invocations become failure rows and
// the sweep continues. When ctx ends the running process is killed, the
// sweep stops and the rows gathered so far are still exported. A machinefile
// that cannot be written or removed also stops the sweep: the partial rows
// are exported, the stored sweep is marked failed and the Result is returned
// together with the error.
func (r *Runner) Run(ctx context.Context, opts sweep.Options) (*Result, error) {
	plan, nodes, err := Prepare(opts)
	if err != nil {
		return nil, err
	}

	table, err := results.NewTable(plan.Mode)
	if err != nil {
		return nil, err
	}

	res := &Result{
		SweepID:   uuid.New().String(),
		Plan:      plan,
		Table:     table,
		StartedAt: r.now(),
	}
	ctx = logging.WithSweepID(ctx, res.SweepID)
	logger := r.logger.With(slog.String("mode", string(plan.Mode)))

	r.logPlan(ctx, logger, opts, plan)

	record := r.createRecord(ctx, logger, res, opts)

	var progress Progress
	if r.progress != nil {
		progress = r.progress(len(plan.Points))
	}

	var limiter *rate.Limiter
	if opts.Cooldown > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Cooldown), 1)
	}

	runLog := sweep.NewRunLog(opts.LogDir, res.StartedAt)

	var runErr error
	for _, group := range groupByNodeCount(plan.Points) {
		err := sweep.WithMachinefile(r.machinefileDir, nodes, group[0].NodeCount, func(path string) error {
			for _, cfg := range group {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("%w: %w", errInterrupted, err)
				}
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return fmt.Errorf("%w: cooldown: %w", errInterrupted, err)
					}
				}

				if err := r.runPoint(ctx, logger, runLog, res, record, cfg, path, opts.Workdir); err != nil {
					return err
				}
				res.Executed++
				if progress != nil {
					if err := progress.Add(1); err != nil {
						logger.DebugContext(ctx, "failed to update progress", slog.String("error", err.Error()))
					}
				}
			}
			return nil
		})
		if errors.Is(err, errInterrupted) {
			res.Interrupted = true
			logger.WarnContext(ctx, "sweep interrupted, keeping partial results",
				slog.String("cause", err.Error()),
				slog.Int("executed", res.Executed),
				slog.Int("planned", len(plan.Points)))
			break
		}
		if err != nil {
			runErr = fmt.Errorf("node count %d: %w", group[0].NodeCount, err)
			logger.ErrorContext(ctx, "sweep aborted, keeping partial results",
				slog.String("error", err.Error()),
				slog.Int("executed", res.Executed),
				slog.Int("planned", len(plan.Points)))
			break
		}
	}

	res.FinishedAt = r.now()

	exportErr := r.export(ctx, logger, res, opts, !res.Interrupted && runErr == nil)
	if err := errors.Join(runErr, exportErr); err != nil {
		r.finishRecord(ctx, logger, record, res, err)
		return res, err
	}
	r.finishRecord(ctx, logger, record, res, nil)
	r.archive(ctx, logger, res, opts)

	return res, nil
}

func (r *Runner) logPlan(ctx context.Context, logger *slog.Logger, opts sweep.Options, plan *sweep.Plan) {
	attrs := []any{
		slog.Int("points", len(plan.Points)),
		slog.Int("skipped", len(plan.Skipped)),
		slog.Any("node_counts", opts.NodeCounts),
		slog.Any("ppn", opts.PPNs),
	}
	if plan.Mode == launcher.ModeIOR {
		if mb, err := units.ParseRelativeSize(opts.Memory); err == nil {
			attrs = append(attrs, slog.String("memory", units.Humanize(mb)))
		}
		attrs = append(attrs, slog.Any("transfer_sizes", opts.TransferSizes))
	} else {
		attrs = append(attrs, slog.Int("num_files", opts.NumFiles))
	}
	logger.InfoContext(ctx, "sweep planned", attrs...)

	for _, s := range plan.Skipped {
		metrics.RecordSkip(string(plan.Mode), string(s.Reason))
		logger.WarnContext(ctx, "skipping grid point",
			slog.Int("node_count", s.NodeCount),
			slog.Int("ppn", s.PPN),
			slog.String("transfer_size", s.TransferSize),
			slog.String("reason", string(s.Reason)),
			slog.String("detail", s.Detail))
	}
}

// runPoint executes one grid point. It only returns an error when ctx ended
// while the process was running.
func (r *Runner) runPoint(ctx context.Context, logger *slog.Logger, runLog *sweep.RunLog, res *Result,
	record *storage.Sweep, cfg sweep.RunConfig, machinefile, workdir string) error {
	ctx = logging.WithRunIndex(ctx, cfg.Index)
	logger = logger.With(
		slog.Int("node_count", cfg.NodeCount),
		slog.Int("ppn", cfg.PPN))

	var outcome launcher.Outcome
	argv, err := r.launcher.Args(cfg.Invocation(machinefile, workdir))
	if err != nil {
		outcome = launcher.Outcome{ExitCode: -1, Err: err}
	} else {
		logger.InfoContext(ctx, "running benchmark", slog.String("command", strings.Join(argv, " ")))
		outcome = r.exec.Run(ctx, argv)
	}

	logPath, werr := runLog.Write(cfg, outcome.Stdout, outcome.Stderr)
	if werr != nil {
		logger.WarnContext(ctx, "failed to write run log", slog.String("error", werr.Error()))
	} else {
		res.LogPaths = append(res.LogPaths, logPath)
	}

	if outcome.Cancelled() {
		metrics.RecordRun(string(cfg.Mode), metrics.StatusCancelled, outcome.Duration)
		logger.WarnContext(ctx, "benchmark killed by interruption", slog.String("log", logPath))
		return fmt.Errorf("%w: %w", errInterrupted, outcome.Err)
	}

	run := results.RunResult{Config: cfg, Outcome: outcome, LogPath: logPath}
	run.Extract()

	if run.Failed() {
		metrics.RecordRun(string(cfg.Mode), metrics.StatusFailed, outcome.Duration)
		logger.ErrorContext(ctx, "benchmark failed",
			slog.String("reason", outcome.Reason()),
			slog.Int("exit_code", outcome.ExitCode),
			slog.String("stderr", outcome.Stderr),
			slog.String("log", logPath))
	} else {
		metrics.RecordRun(string(cfg.Mode), metrics.StatusSuccess, outcome.Duration)
		r.recordMetrics(ctx, logger, run)
	}

	added := res.Table.Append(run)
	if r.store != nil && record != nil && added > 0 {
		all := res.Table.Rows()
		if err := r.store.AddRows(context.WithoutCancel(ctx), record.ID, all[len(all)-added:]); err != nil {
			logger.WarnContext(ctx, "failed to persist rows", slog.String("error", err.Error()))
		}
	}

	logger.InfoContext(ctx, "benchmark finished",
		slog.Bool("failed", run.Failed()),
		slog.Int("rows", added),
		slog.Duration("duration", outcome.Duration))
	return nil
}

func (r *Runner) recordMetrics(ctx context.Context, logger *slog.Logger, run results.RunResult) {
	cfg := run.Config
	switch cfg.Mode {
	case launcher.ModeIOR:
		if run.Throughput.Empty() {
			logger.WarnContext(ctx, "no throughput found in benchmark output", slog.String("log", run.LogPath))
			return
		}
		if w := run.Throughput.MaxWrite; w != nil {
			metrics.RecordThroughput("write", w.Unit, cfg.NodeCount, cfg.PPN, cfg.TransferSize, w.Value)
		}
		if rd := run.Throughput.MaxRead; rd != nil {
			metrics.RecordThroughput("read", rd.Unit, cfg.NodeCount, cfg.PPN, cfg.TransferSize, rd.Value)
		}
	case launcher.ModeMDTest:
		if len(run.Operations) == 0 {
			logger.WarnContext(ctx, "no summary table found in benchmark output", slog.String("log", run.LogPath))
			return
		}
		for _, op := range run.Operations {
			metrics.RecordOperationRate(op.Operation, cfg.NodeCount, cfg.PPN, op.Mean)
		}
	}
}

func (r *Runner) export(ctx context.Context, logger *slog.Logger, res *Result, opts sweep.Options, completed bool) error {
	var errs []error

	written, err := res.Table.WriteCSV(opts.Output)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("csv export: %w", err))
	case written:
		res.CSVPath = opts.Output
		logger.InfoContext(ctx, "results saved", slog.String("path", opts.Output), slog.Int("rows", res.Table.Len()))
	case opts.Output != "":
		logger.WarnContext(ctx, "no results to save", slog.String("path", opts.Output))
	}

	written, err = res.Table.WriteParquet(opts.ParquetOutput)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("parquet export: %w", err))
	case written:
		res.ParquetPath = opts.ParquetOutput
		logger.InfoContext(ctx, "results saved", slog.String("path", opts.ParquetOutput), slog.Int("rows", res.Table.Len()))
	}

	total, failed := res.Table.Runs()
	metrics.RecordSweep(string(res.Plan.Mode), completed, res.Table.Len())
	if r.textfile != "" {
		if err := metrics.WriteTextfile(r.textfile); err != nil {
			logger.WarnContext(ctx, "failed to write metrics textfile", slog.String("error", err.Error()))
		}
	}

	logger.InfoContext(ctx, "sweep finished",
		slog.Int("runs", total),
		slog.Int("failed", failed),
		slog.Int("rows", res.Table.Len()),
		slog.Bool("interrupted", res.Interrupted),
		slog.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))

	return errors.Join(errs...)
}

func (r *Runner) createRecord(ctx context.Context, logger *slog.Logger, res *Result, opts sweep.Options) *storage.Sweep {
	if r.store == nil {
		return nil
	}
	record := &storage.Sweep{
		ID:   res.SweepID,
		Mode: string(res.Plan.Mode),
		Parameters: storage.SweepParameters{
			Machinefile:   opts.Machinefile,
			Workdir:       opts.Workdir,
			NodeCounts:    opts.NodeCounts,
			PPNs:          opts.PPNs,
			Memory:        opts.Memory,
			TransferSizes: opts.TransferSizes,
			NumFiles:      opts.NumFiles,
			Interface:     opts.Interface,
		},
		SkippedPoints: len(res.Plan.Skipped),
		LogDir:        opts.LogDir,
		StartedAt:     res.StartedAt,
	}
	if err := r.store.Create(ctx, record); err != nil {
		logger.WarnContext(ctx, "failed to record sweep, continuing without persistence", slog.String("error", err.Error()))
		return nil
	}
	return record
}

func (r *Runner) finishRecord(ctx context.Context, logger *slog.Logger, record *storage.Sweep, res *Result, exportErr error) {
	if r.store == nil || record == nil {
		return
	}
	total, failed := res.Table.Runs()
	record.Status = storage.SweepStatusComplete
	if res.Interrupted {
		record.Status = storage.SweepStatusInterrupted
	}
	if exportErr != nil {
		record.Status = storage.SweepStatusFailed
		record.Error = exportErr.Error()
	}
	record.TotalRuns = total
	record.FailedRuns = failed
	record.RowCount = res.Table.Len()
	record.CSVPath = res.CSVPath
	record.ParquetPath = res.ParquetPath
	finished := res.FinishedAt
	record.FinishedAt = &finished

	if err := r.store.Finish(context.WithoutCancel(ctx), record); err != nil {
		logger.WarnContext(ctx, "failed to record sweep outcome", slog.String("error", err.Error()))
	}
}

func (r *Runner) archive(ctx context.Context, logger *slog.Logger, res *Result, opts sweep.Options) {
	if r.archiver == nil || res.Interrupted {
		return
	}
	var files []string
	if res.CSVPath != "" {
		files = append(files, res.CSVPath)
	}
	if res.ParquetPath != "" {
		files = append(files, res.ParquetPath)
	}
	files = append(files, res.LogPaths...)
	if len(files) == 0 {
		return
	}
	if err := r.archiver.Archive(ctx, res.SweepID, files); err != nil {
		logger.WarnContext(ctx, "failed to archive results", slog.String("error", err.Error()))
		return
	}
	logger.InfoContext(ctx, "results archived", slog.Int("files", len(files)))
}

// groupByNodeCount splits points into runs of equal node count, keeping
// their order.
func groupByNodeCount(points []sweep.RunConfig) [][]sweep.RunConfig {
	var groups [][]sweep.RunConfig
	for _, p := range points {
		n := len(groups)
		if n > 0 && groups[n-1][0].NodeCount == p.NodeCount {
			groups[n-1] = append(groups[n-1], p)
			continue
		}
		groups = append(groups, []sweep.RunConfig{p})
	}
	return groups
}
