// Package results aggregates per-run benchmark results into a table with a
// fixed, mode-dependent column schema and exports it.
package results

import (
	"fmt"
	"strconv"

	"github.com/iosweep/iosweep/internal/launcher"
	"github.com/iosweep/iosweep/internal/report"
	"github.com/iosweep/iosweep/internal/sweep"
)

// FailureSentinel marks the metric column of a run that did not complete.
const FailureSentinel = "ERROR"

var (
	iorColumns = []string{
		"ppn", "node_count", "blocksize", "transfer_size",
		"max_write", "write_units", "max_read", "read_units",
	}
	mdtestColumns = []string{
		"ppn", "node_count", "files_per_proc", "total_files",
		"operation", "max", "min", "mean", "stddev",
	}
)

// Columns returns the column schema of mode.
func Columns(mode launcher.Mode) []string {
	switch mode {
	case launcher.ModeIOR:
		return append([]string(nil), iorColumns...)
	case launcher.ModeMDTest:
		return append([]string(nil), mdtestColumns...)
	default:
		return nil
	}
}

// RunResult is the outcome of executing one grid point.
type RunResult struct {
	Config  sweep.RunConfig
	Outcome launcher.Outcome
	LogPath string

	Throughput report.Throughput        // ior
	Operations []report.OperationStats // mdtest
}

// Failed reports whether the invocation failed.
func (r RunResult) Failed() bool {
	return r.Outcome.Failed()
}

// Extract parses the captured output of a successful run according to its
// mode. Failed runs are left without metrics.
func (r *RunResult) Extract() {
	if r.Failed() {
		return
	}
	switch r.Config.Mode {
	case launcher.ModeIOR:
		r.Throughput = report.ParseThroughput(r.Outcome.Stdout)
	case launcher.ModeMDTest:
		r.Operations = report.ParseSummaryTable(r.Outcome.Stdout)
	}
}

// Row is one flattened table row. Fields that do not belong to the table's
// mode stay empty.
type Row struct {
	RunIndex  int  `json:"run_index"`
	Failed    bool `json:"failed"`
	PPN       int  `json:"ppn"`
	NodeCount int  `json:"node_count"`

	BlockSize    string `json:"blocksize,omitempty"`
	TransferSize string `json:"transfer_size,omitempty"`
	MaxWrite     string `json:"max_write,omitempty"`
	WriteUnits   string `json:"write_units,omitempty"`
	MaxRead      string `json:"max_read,omitempty"`
	ReadUnits    string `json:"read_units,omitempty"`

	FilesPerProc int    `json:"files_per_proc,omitempty"`
	TotalFiles   int    `json:"total_files,omitempty"`
	Operation    string `json:"operation,omitempty"`
	Max          string `json:"max,omitempty"`
	Min          string `json:"min,omitempty"`
	Mean         string `json:"mean,omitempty"`
	StdDev       string `json:"stddev,omitempty"`
}

// Values renders the row in the column order of mode.
func (r Row) Values(mode launcher.Mode) []string {
	switch mode {
	case launcher.ModeIOR:
		return []string{
			strconv.Itoa(r.PPN), strconv.Itoa(r.NodeCount), r.BlockSize, r.TransferSize,
			r.MaxWrite, r.WriteUnits, r.MaxRead, r.ReadUnits,
		}
	case launcher.ModeMDTest:
		return []string{
			strconv.Itoa(r.PPN), strconv.Itoa(r.NodeCount), strconv.Itoa(r.FilesPerProc), strconv.Itoa(r.TotalFiles),
			r.Operation, r.Max, r.Min, r.Mean, r.StdDev,
		}
	default:
		return nil
	}
}

// Table accumulates rows in execution order. Its schema is fixed when it is
// created and does not depend on which metrics individual runs reported.
type Table struct {
	mode    launcher.Mode
	columns []string
	rows    []Row
	runs    int
	failed  int
}

// NewTable creates an empty table for mode.
func NewTable(mode launcher.Mode) (*Table, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown benchmark mode %q", mode)
	}
	return &Table{mode: mode, columns: Columns(mode)}, nil
}

// Mode returns the benchmark mode of the table.
func (t *Table) Mode() launcher.Mode {
	return t.mode
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Append adds the rows contributed by one run and returns how many were
// added. An ior run adds exactly one row. An mdtest run adds one row per
// reported operation. A failed run of either mode adds a single row holding
// FailureSentinel.
func (t *Table) Append(res RunResult) int {
	if res.Config.Mode != t.mode {
		return 0
	}
	t.runs++
	if res.Failed() {
		t.failed++
	}

	cfg := res.Config
	base := Row{
		RunIndex:  cfg.Index,
		Failed:    res.Failed(),
		PPN:       cfg.PPN,
		NodeCount: cfg.NodeCount,
	}

	switch t.mode {
	case launcher.ModeIOR:
		row := base
		row.BlockSize = cfg.BlockSize
		row.TransferSize = cfg.TransferSize
		if res.Failed() {
			row.MaxWrite = FailureSentinel
		} else {
			if w := res.Throughput.MaxWrite; w != nil {
				row.MaxWrite, row.WriteUnits = w.Raw, w.Unit
			}
			if r := res.Throughput.MaxRead; r != nil {
				row.MaxRead, row.ReadUnits = r.Raw, r.Unit
			}
		}
		t.rows = append(t.rows, row)
		return 1

	case launcher.ModeMDTest:
		base.FilesPerProc = cfg.FilesPerProc
		base.TotalFiles = cfg.TotalFiles
		if res.Failed() {
			row := base
			row.Operation = FailureSentinel
			t.rows = append(t.rows, row)
			return 1
		}
		for _, op := range res.Operations {
			row := base
			row.Operation = op.Operation
			row.Max = op.Max
			row.Min = op.Min
			row.Mean = op.Mean
			row.StdDev = op.StdDev
			t.rows = append(t.rows, row)
		}
		return len(res.Operations)
	}
	return 0
}

// Rows returns a copy of the rows.
func (t *Table) Rows() []Row {
	return append([]Row(nil), t.rows...)
}

// Records returns the rows rendered as strings in column order.
func (t *Table) Records() [][]string {
	out := make([][]string, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r.Values(t.mode))
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Runs returns how many run results were appended, and how many of them
// failed.
func (t *Table) Runs() (total, failed int) {
	return t.runs, t.failed
}
