package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iosweep/iosweep/internal/results"
)

// Sweep status constants
const (
	SweepStatusRunning     = "running"
	SweepStatusComplete    = "complete"
	SweepStatusInterrupted = "interrupted"
	SweepStatusFailed      = "failed"
)

// SweepParameters is the grid definition of a sweep as it was requested
type SweepParameters struct {
	Machinefile   string   `json:"machinefile"`
	Workdir       string   `json:"workdir"`
	NodeCounts    []int    `json:"node_counts"`
	PPNs          []int    `json:"ppns"`
	Memory        string   `json:"memory,omitempty"`
	TransferSizes []string `json:"transfer_sizes,omitempty"`
	NumFiles      int      `json:"num_files,omitempty"`
	Interface     string   `json:"interface"`
}

// Sweep is one recorded campaign
type Sweep struct {
	ID         string          `json:"id"`
	Mode       string          `json:"mode"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Parameters SweepParameters `json:"parameters"`

	TotalRuns     int `json:"total_runs"`
	FailedRuns    int `json:"failed_runs"`
	SkippedPoints int `json:"skipped_points"`
	RowCount      int `json:"row_count"`

	CSVPath     string `json:"csv_path,omitempty"`
	ParquetPath string `json:"parquet_path,omitempty"`
	LogDir      string `json:"log_dir,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsFinished returns true once the sweep has stopped for any reason
func (s *Sweep) IsFinished() bool {
	return s.Status != SweepStatusRunning
}

// SweepStore handles sweep persistence
type SweepStore struct {
	db *DB
}

// NewSweepStore creates a new sweep store
func NewSweepStore(db *DB) *SweepStore {
	return &SweepStore{db: db}
}

// Create inserts a new sweep
func (s *SweepStore) Create(ctx context.Context, sweep *Sweep) error {
	if sweep.ID == "" {
		sweep.ID = uuid.New().String()
	}
	if sweep.Status == "" {
		sweep.Status = SweepStatusRunning
	}
	if sweep.StartedAt.IsZero() {
		sweep.StartedAt = time.Now()
	}

	params, err := json.Marshal(sweep.Parameters)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	query := `
		INSERT INTO sweeps (
			id, mode, status, error, parameters,
			total_runs, failed_runs, skipped_points, row_count,
			csv_path, parquet_path, log_dir,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		sweep.ID, sweep.Mode, sweep.Status, nullString(sweep.Error), string(params),
		sweep.TotalRuns, sweep.FailedRuns, sweep.SkippedPoints, sweep.RowCount,
		nullString(sweep.CSVPath), nullString(sweep.ParquetPath), nullString(sweep.LogDir),
		sweep.StartedAt, nullTime(sweep.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create sweep: %w", err)
	}

	return nil
}

// Finish records the outcome of a sweep. FinishedAt is set to now when it
// is not already set.
func (s *SweepStore) Finish(ctx context.Context, sweep *Sweep) error {
	if sweep.FinishedAt == nil {
		now := time.Now()
		sweep.FinishedAt = &now
	}

	query := `
		UPDATE sweeps SET
			status = ?,
			error = ?,
			total_runs = ?,
			failed_runs = ?,
			skipped_points = ?,
			row_count = ?,
			csv_path = ?,
			parquet_path = ?,
			finished_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		sweep.Status,
		nullString(sweep.Error),
		sweep.TotalRuns,
		sweep.FailedRuns,
		sweep.SkippedPoints,
		sweep.RowCount,
		nullString(sweep.CSVPath),
		nullString(sweep.ParquetPath),
		nullTime(sweep.FinishedAt),
		sweep.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sweep: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

const sweepColumns = `
	id, mode, status, error, parameters,
	total_runs, failed_runs, skipped_points, row_count,
	csv_path, parquet_path, log_dir,
	started_at, finished_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSweep(row rowScanner) (*Sweep, error) {
	sweep := &Sweep{}
	var errText, csvPath, parquetPath, logDir sql.NullString
	var params string
	var finishedAt sql.NullTime

	err := row.Scan(
		&sweep.ID, &sweep.Mode, &sweep.Status, &errText, &params,
		&sweep.TotalRuns, &sweep.FailedRuns, &sweep.SkippedPoints, &sweep.RowCount,
		&csvPath, &parquetPath, &logDir,
		&sweep.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &sweep.Parameters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
	}
	sweep.Error = errText.String
	sweep.CSVPath = csvPath.String
	sweep.ParquetPath = parquetPath.String
	sweep.LogDir = logDir.String
	if finishedAt.Valid {
		sweep.FinishedAt = &finishedAt.Time
	}

	return sweep, nil
}

// Get retrieves a sweep by ID
func (s *SweepStore) Get(ctx context.Context, id string) (*Sweep, error) {
	query := `SELECT ` + sweepColumns + ` FROM sweeps WHERE id = ?`

	sweep, err := scanSweep(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sweep: %w", err)
	}
	return sweep, nil
}

// SweepFilter defines criteria for listing sweeps
type SweepFilter struct {
	Mode   string
	Status string
	Limit  int
}

// List returns sweeps matching the filter, newest first
func (s *SweepStore) List(ctx context.Context, filter SweepFilter) ([]*Sweep, error) {
	query := `SELECT ` + sweepColumns + ` FROM sweeps WHERE 1=1`

	var args []interface{}

	if filter.Mode != "" {
		query += " AND mode = ?"
		args = append(args, filter.Mode)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []*Sweep
	for rows.Next() {
		sweep, err := scanSweep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		sweeps = append(sweeps, sweep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sweeps: %w", err)
	}

	return sweeps, nil
}

// Count returns the number of stored sweeps
func (s *SweepStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sweeps`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sweeps: %w", err)
	}
	return n, nil
}

// Delete removes a sweep and its rows
func (s *SweepStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sweeps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRows appends result rows to a sweep in a single transaction. Rows keep
// the order in which they are given, after any rows already stored.
func (s *SweepStore) AddRows(ctx context.Context, sweepID string, rows []results.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sweeps WHERE id = ?`, sweepID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up sweep: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM sweep_rows WHERE sweep_id = ?`, sweepID,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to read row sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sweep_rows (
			sweep_id, seq, run_index, failed, ppn, node_count,
			blocksize, transfer_size, max_write, write_units, max_read, read_units,
			files_per_proc, total_files, operation, max, min, mean, stddev
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		_, err := stmt.ExecContext(ctx,
			sweepID, next+i, r.RunIndex, r.Failed, r.PPN, r.NodeCount,
			r.BlockSize, r.TransferSize, r.MaxWrite, r.WriteUnits, r.MaxRead, r.ReadUnits,
			r.FilesPerProc, r.TotalFiles, r.Operation, r.Max, r.Min, r.Mean, r.StdDev,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rows: %w", err)
	}
	return nil
}

// Rows returns the stored rows of a sweep in insertion order
func (s *SweepStore) Rows(ctx context.Context, sweepID string) ([]results.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			run_index, failed, ppn, node_count,
			blocksize, transfer_size, max_write, write_units, max_read, read_units,
			files_per_proc, total_files, operation, max, min, mean, stddev
		FROM sweep_rows
		WHERE sweep_id = ?
		ORDER BY seq ASC
	`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	out := []results.Row{}
	for rows.Next() {
		var r results.Row
		err := rows.Scan(
			&r.RunIndex, &r.Failed, &r.PPN, &r.NodeCount,
			&r.BlockSize, &r.TransferSize, &r.MaxWrite, &r.WriteUnits, &r.MaxRead, &r.ReadUnits,
			&r.FilesPerProc, &r.TotalFiles, &r.Operation, &r.Max, &r.Min, &r.Mean, &r.StdDev,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
