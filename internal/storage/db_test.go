package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDB opens a migrated database in a temp dir
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "iosweep.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		path    func(dir string) string
		wantErr bool
	}{
		{"plain file", func(dir string) string { return filepath.Join(dir, "iosweep.db") }, false},
		{"nested directories are created", func(dir string) string { return filepath.Join(dir, "data", "db", "iosweep.db") }, false},
		{"parent is not a directory", func(string) string { return "/dev/null/iosweep.db" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path(t.TempDir())
			db, err := New(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer db.Close()

			_, err = os.Stat(path)
			assert.NoError(t, err)
		})
	}
}

func TestDB_Pragmas(t *testing.T) {
	db := newTestDB(t)

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestDB_Migrate_Schema(t *testing.T) {
	db := newTestDB(t)

	objects := map[string]string{
		"sweeps":               "table",
		"sweep_rows":           "table",
		"idx_sweeps_mode":      "index",
		"idx_sweeps_status":    "index",
		"idx_sweeps_started_at": "index",
	}
	for name, kind := range objects {
		var got string
		err := db.QueryRow("SELECT type FROM sqlite_master WHERE name = ?", name).Scan(&got)
		require.NoError(t, err, "%s %s missing", kind, name)
		assert.Equal(t, kind, got)
	}
}

func TestDB_Migrate_Repeatable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO sweeps (id, mode) VALUES ('kept', 'ior')`)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sweeps`).Scan(&n))
	assert.Equal(t, 1, n, "migrations must not drop data")
}

func TestDB_RowsRequireSweep(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		`INSERT INTO sweep_rows (sweep_id, seq, run_index, ppn, node_count) VALUES ('ghost', 0, 0, 1, 1)`)
	assert.Error(t, err)
}

func TestDB_DeleteCascadesToRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO sweeps (id, mode) VALUES ('s1', 'mdtest')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO sweep_rows (sweep_id, seq, run_index, ppn, node_count, operation) VALUES ('s1', 0, 0, 2, 1, 'File creation')`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `DELETE FROM sweeps WHERE id = 's1'`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sweep_rows`).Scan(&n))
	assert.Zero(t, n)
}

func TestDB_Close(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "iosweep.db"))
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping())
}
