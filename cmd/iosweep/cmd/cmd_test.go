package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iosweep/iosweep/internal/results"
	"github.com/iosweep/iosweep/internal/storage"
	"github.com/iosweep/iosweep/internal/sweep"
)

type testEnv struct {
	dir         string
	configPath  string
	dbPath      string
	machinefile string
}

func newTestEnv(t *testing.T, withDB bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:         dir,
		configPath:  filepath.Join(dir, "iosweep.yaml"),
		machinefile: filepath.Join(dir, "hosts"),
	}

	dbLine := `path: ""`
	if withDB {
		env.dbPath = filepath.Join(dir, "iosweep.db")
		dbLine = fmt.Sprintf("path: %q", env.dbPath)
	}
	cfg := fmt.Sprintf(`
launcher:
  executable: %q
database:
  %s
logging:
  level: error
`, filepath.Join(dir, "no-such-mpirun"), dbLine)

	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0644))
	require.NoError(t, os.WriteFile(env.machinefile, []byte("node01\nnode02\n"), 0644))
	return env
}

func (e *testEnv) execute(args ...string) (string, error) {
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestRun_MissingModeOptionsIsConfigError(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "ior without memory",
			args: []string{"run", "-b", "ior", "--machinefile", env.machinefile, "--num-hosts", "1", "--ppn", "1", "-d", env.dir, "--transfer-size", "1M"},
			want: "--memory is required for ior",
		},
		{
			name: "mdtest without num-files",
			args: []string{"run", "-b", "mdtest", "--machinefile", env.machinefile, "--num-hosts", "1", "--ppn", "1", "-d", env.dir},
			want: "--num-files is required for mdtest",
		},
		{
			name: "unknown benchmark",
			args: []string{"run", "-b", "fio", "--machinefile", env.machinefile, "--num-hosts", "1", "--ppn", "1", "-d", env.dir},
			want: "--benchmark must be one of",
		},
		{
			name: "bad list",
			args: []string{"run", "-b", "mdtest", "--machinefile", env.machinefile, "--num-hosts", "1,two", "--ppn", "1", "-d", env.dir, "--num-files", "10"},
			want: "--num-hosts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.execute(tt.args...)
			require.Error(t, err)

			var cfgErr *sweep.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, exitConfigError, ExitCode(err))
		})
	}
}

func TestRun_HelpExplainsBlockSizeToken(t *testing.T) {
	env := newTestEnv(t, false)

	out, err := env.execute("run", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "rounded\ndown to a multiple of the transfer size")
	assert.Contains(t, out, `1536 MB becomes "1536m"`)
}

func TestPlan_IOR(t *testing.T) {
	env := newTestEnv(t, false)

	out, err := env.execute("plan", "-b", "ior", "--machinefile", env.machinefile,
		"--num-hosts", "1,2,4", "--ppn", "4", "--memory", "128G", "--transfer-size", "4M,0M")
	require.NoError(t, err)

	assert.Contains(t, out, "Mode: ior, 2 hosts")
	assert.Contains(t, out, "Memory per node: 128 GiB")
	assert.Contains(t, out, "48g")
	assert.Contains(t, out, "Skipped (3):")
	assert.Contains(t, out, "insufficient_nodes")
	assert.Contains(t, out, "zero_transfer_size")
}

func TestPlan_MDTestJSON(t *testing.T) {
	env := newTestEnv(t, false)

	out, err := env.execute("plan", "-b", "mdtest", "--machinefile", env.machinefile,
		"--num-hosts", "2", "--ppn", "2", "--num-files", "1000", "-o", "json")
	require.NoError(t, err)

	var plan sweep.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	require.Len(t, plan.Points, 1)
	assert.Equal(t, 250, plan.Points[0].FilesPerProc)
	assert.Equal(t, 1000, plan.Points[0].TotalFiles)
}

func seedSweep(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.New(dbPath)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	store := storage.NewSweepStore(db)
	require.NoError(t, store.Create(ctx, &storage.Sweep{
		ID:        "sweep-1",
		Mode:      "ior",
		StartedAt: time.Now().Add(-time.Hour),
		Parameters: storage.SweepParameters{
			NodeCounts:    []int{1},
			PPNs:          []int{4},
			TransferSizes: []string{"4M"},
		},
	}))
	require.NoError(t, store.AddRows(ctx, "sweep-1", []results.Row{
		{PPN: 4, NodeCount: 1, BlockSize: "48g", TransferSize: "4M", MaxWrite: "1234.56", WriteUnits: "MiB/sec", MaxRead: "2345.67", ReadUnits: "MiB/sec"},
	}))
	require.NoError(t, store.Finish(ctx, &storage.Sweep{ID: "sweep-1", Status: storage.SweepStatusComplete, TotalRuns: 1, RowCount: 1}))
}

func TestSweeps_ListAndShow(t *testing.T) {
	env := newTestEnv(t, true)
	seedSweep(t, env.dbPath)

	out, err := env.execute("sweeps", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "sweep-1")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1 hour ago")

	out, err = env.execute("sweeps", "show", "sweep-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:    complete")
	assert.Contains(t, out, "MAX_WRITE")
	assert.Contains(t, out, "1234.56")

	out, err = env.execute("sweeps", "show", "sweep-1", "-o", "json")
	require.NoError(t, err)
	var shown struct {
		ID   string        `json:"id"`
		Rows []results.Row `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "sweep-1", shown.ID)
	require.Len(t, shown.Rows, 1)
	assert.Equal(t, "48g", shown.Rows[0].BlockSize)
}

func TestSweeps_ListFilterAndEmpty(t *testing.T) {
	env := newTestEnv(t, true)
	seedSweep(t, env.dbPath)

	out, err := env.execute("sweeps", "list", "--mode", "mdtest")
	require.NoError(t, err)
	assert.Contains(t, out, "No sweeps found.")

	out, err = env.execute("sweeps", "list", "--mode", "mdtest", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sweeps":[],"count":0}`, out)
}

func TestSweeps_ShowMissing(t *testing.T) {
	env := newTestEnv(t, true)
	seedSweep(t, env.dbPath)

	_, err := env.execute("sweeps", "show", "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, exitError, ExitCode(err))
}

func TestSweeps_Delete(t *testing.T) {
	env := newTestEnv(t, true)
	seedSweep(t, env.dbPath)

	out, err := env.execute("sweeps", "delete", "sweep-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted sweep sweep-1")

	_, err = env.execute("sweeps", "show", "sweep-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweeps_NoDatabase(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.execute("sweeps", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sweep database configured")
}

func TestFlagOrConfig(t *testing.T) {
	assert.Equal(t, "flag.csv", flagOrConfig(true, "flag.csv", "config.csv"))
	assert.Equal(t, "", flagOrConfig(true, "", "config.csv"))
	assert.Equal(t, "config.csv", flagOrConfig(false, "", "config.csv"))
}
