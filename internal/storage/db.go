package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationSweeps,
		migrationSweepRows,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationSweeps = `
CREATE TABLE IF NOT EXISTS sweeps (
	id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	error TEXT,

	-- Grid definition as entered
	parameters TEXT NOT NULL DEFAULT '{}',

	-- Outcome
	total_runs INTEGER NOT NULL DEFAULT 0,
	failed_runs INTEGER NOT NULL DEFAULT 0,
	skipped_points INTEGER NOT NULL DEFAULT 0,
	row_count INTEGER NOT NULL DEFAULT 0,

	-- Artifacts
	csv_path TEXT,
	parquet_path TEXT,
	log_dir TEXT,

	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	finished_at DATETIME
);
`

const migrationSweepRows = `
CREATE TABLE IF NOT EXISTS sweep_rows (
	sweep_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	run_index INTEGER NOT NULL,
	failed INTEGER NOT NULL DEFAULT 0,
	ppn INTEGER NOT NULL,
	node_count INTEGER NOT NULL,

	-- ior
	blocksize TEXT NOT NULL DEFAULT '',
	transfer_size TEXT NOT NULL DEFAULT '',
	max_write TEXT NOT NULL DEFAULT '',
	write_units TEXT NOT NULL DEFAULT '',
	max_read TEXT NOT NULL DEFAULT '',
	read_units TEXT NOT NULL DEFAULT '',

	-- mdtest
	files_per_proc INTEGER NOT NULL DEFAULT 0,
	total_files INTEGER NOT NULL DEFAULT 0,
	operation TEXT NOT NULL DEFAULT '',
	max TEXT NOT NULL DEFAULT '',
	min TEXT NOT NULL DEFAULT '',
	mean TEXT NOT NULL DEFAULT '',
	stddev TEXT NOT NULL DEFAULT '',

	PRIMARY KEY (sweep_id, seq),
	FOREIGN KEY (sweep_id) REFERENCES sweeps(id) ON DELETE CASCADE
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_sweeps_mode ON sweeps(mode);
CREATE INDEX IF NOT EXISTS idx_sweeps_status ON sweeps(status);
CREATE INDEX IF NOT EXISTS idx_sweeps_started_at ON sweeps(started_at);
`
