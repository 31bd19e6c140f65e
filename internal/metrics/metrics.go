package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run status label values
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// HTTP request metrics for API server
var (
	// HTTPRequestDuration tracks the duration of HTTP requests
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method, path, and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts the total number of HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)
)

// Sweep metrics
var (
	// RunsTotal counts benchmark invocations by mode and status
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iosweep_runs_total",
			Help: "Total number of benchmark invocations by mode and status (success, failed, cancelled)",
		},
		[]string{"mode", "status"},
	)

	// RunDuration tracks the wall time of benchmark invocations
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iosweep_run_duration_seconds",
			Help:    "Wall time of benchmark invocations by mode",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
		[]string{"mode"},
	)

	// PointsSkipped counts grid points dropped before execution
	PointsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iosweep_grid_points_skipped_total",
			Help: "Total number of grid points skipped by mode and reason",
		},
		[]string{"mode", "reason"},
	)

	// SweepsTotal counts completed sweeps
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iosweep_sweeps_total",
			Help: "Total number of sweeps by mode and whether they ran to completion",
		},
		[]string{"mode", "completed"},
	)

	// SweepRows tracks the number of result rows of the last sweep
	SweepRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iosweep_last_sweep_rows",
			Help: "Number of result rows produced by the last sweep of each mode",
		},
		[]string{"mode"},
	)

	// MaxThroughput holds the last reported ior throughput per grid point
	MaxThroughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iosweep_ior_max_throughput",
			Help: "Last reported ior max throughput by direction, unit and grid point",
		},
		[]string{"direction", "unit", "node_count", "ppn", "transfer_size"},
	)

	// OperationRate holds the last reported mdtest mean rate per operation
	OperationRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iosweep_mdtest_mean_rate",
			Help: "Last reported mdtest mean rate (ops/sec) by operation and grid point",
		},
		[]string{"operation", "node_count", "ppn"},
	)

	// StoredSweeps tracks the number of sweeps in the database
	StoredSweeps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "iosweep_stored_sweeps",
			Help: "Number of sweeps recorded in the database",
		},
	)
)

// RecordRun records the status and duration of one invocation
func RecordRun(mode, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(mode, status).Inc()
	RunDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordSkip increments the skipped grid point counter
func RecordSkip(mode, reason string) {
	PointsSkipped.WithLabelValues(mode, reason).Inc()
}

// RecordSweep records a finished sweep and its row count
func RecordSweep(mode string, completed bool, rows int) {
	SweepsTotal.WithLabelValues(mode, strconv.FormatBool(completed)).Inc()
	SweepRows.WithLabelValues(mode).Set(float64(rows))
}

// RecordThroughput sets the throughput gauge for one direction ("write" or "read")
func RecordThroughput(direction, unit string, nodeCount, ppn int, transferSize string, value float64) {
	MaxThroughput.WithLabelValues(direction, unit, strconv.Itoa(nodeCount), strconv.Itoa(ppn), transferSize).Set(value)
}

// RecordOperationRate sets the mdtest rate gauge. Values that are not
// numbers are ignored.
func RecordOperationRate(operation string, nodeCount, ppn int, mean string) {
	v, err := strconv.ParseFloat(mean, 64)
	if err != nil {
		return
	}
	OperationRate.WithLabelValues(operation, strconv.Itoa(nodeCount), strconv.Itoa(ppn)).Set(v)
}

// RecordHTTPRequest records the duration and count of an HTTP request
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// InitializeStoredSweeps sets the stored sweeps gauge from the database count
func InitializeStoredSweeps(ctx context.Context, count int) {
	StoredSweeps.Set(float64(count))
	slog.InfoContext(ctx, "initialized sweep metrics from database",
		slog.Int("sweeps", count))
}

// SetStoredSweeps sets the stored sweeps gauge
func SetStoredSweeps(count int) {
	StoredSweeps.Set(float64(count))
}

// WriteTextfile writes all registered metrics to path in the text
// exposition format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
