package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("ior", StatusFailed))

	RecordRun("ior", StatusFailed, 3*time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues("ior", StatusFailed)))
}

func TestRecordSkip(t *testing.T) {
	before := testutil.ToFloat64(PointsSkipped.WithLabelValues("ior", "infeasible_block_size"))

	RecordSkip("ior", "infeasible_block_size")
	RecordSkip("ior", "infeasible_block_size")

	assert.Equal(t, before+2, testutil.ToFloat64(PointsSkipped.WithLabelValues("ior", "infeasible_block_size")))
}

func TestRecordSweep(t *testing.T) {
	RecordSweep("mdtest", true, 14)
	assert.Equal(t, float64(14), testutil.ToFloat64(SweepRows.WithLabelValues("mdtest")))

	RecordSweep("mdtest", false, 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(SweepRows.WithLabelValues("mdtest")))
}

func TestRecordOperationRate_IgnoresNonNumeric(t *testing.T) {
	RecordOperationRate("File creation:", 2, 4, "2111.000")
	assert.Equal(t, 2111.0, testutil.ToFloat64(OperationRate.WithLabelValues("File creation:", "2", "4")))

	RecordOperationRate("File creation:", 2, 4, "n/a")
	assert.Equal(t, 2111.0, testutil.ToFloat64(OperationRate.WithLabelValues("File creation:", "2", "4")))
}

func TestInitializeStoredSweeps(t *testing.T) {
	InitializeStoredSweeps(context.Background(), 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(StoredSweeps))
}

func TestWriteTextfile(t *testing.T) {
	RecordThroughput("write", "MiB/sec", 2, 4, "4M", 1234.56)

	path := filepath.Join(t.TempDir(), "iosweep.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "iosweep_ior_max_throughput")
	assert.Contains(t, string(data), `transfer_size="4M"`)
}

func TestWriteTextfile_BadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write metrics textfile")
}
