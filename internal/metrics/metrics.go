// Package metrics exposes Prometheus collectors for the batch coordinator.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	batchTasksLaunchedTotal     *prometheus.CounterVec
	batchLaunchFailuresTotal    *prometheus.CounterVec
	batchTasksStoppedTotal      prometheus.Counter
	batchWaitDurationSeconds    prometheus.Histogram
	batchNonzeroExitsTotal      *prometheus.CounterVec
	reducePartitionsMergedTotal *prometheus.CounterVec
	reduceDurationSeconds       *prometheus.HistogramVec
	syncFilesCopiedTotal        *prometheus.CounterVec
	syncFilesSkippedTotal       *prometheus.CounterVec
	syncCopyFailuresTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		batchTasksLaunchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_tasks_launched_total",
				Help: "Total number of partition tasks launched, labeled by flavor.",
			},
			[]string{"flavor"},
		)

		batchLaunchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_launch_failures_total",
				Help: "Total number of partition launches the cluster failed to place, labeled by flavor.",
			},
			[]string{"flavor"},
		)

		batchTasksStoppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "batch_tasks_stopped_total",
				Help: "Total number of tasks stopped during provisioning rollback.",
			},
		)

		batchWaitDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_wait_duration_seconds",
				Help:    "Histogram of time spent at the completion barrier.",
				Buckets: []float64{30, 60, 120, 300, 600, 1800, 3600, 7200},
			},
		)

		batchNonzeroExitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_nonzero_exits_total",
				Help: "Total number of partitions that finished with a non-zero exit code, labeled by flavor.",
			},
			[]string{"flavor"},
		)

		reducePartitionsMergedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reduce_partitions_merged_total",
				Help: "Total number of partition files merged, labeled by tag.",
			},
			[]string{"tag"},
		)

		reduceDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reduce_duration_seconds",
				Help:    "Histogram of reduction latencies, labeled by tag.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"tag"},
		)

		syncFilesCopiedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_files_copied_total",
				Help: "Total number of files copied by the synchronizer, labeled by direction.",
			},
			[]string{"direction"},
		)

		syncFilesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_files_skipped_total",
				Help: "Total number of files already up to date at the destination, labeled by direction.",
			},
			[]string{"direction"},
		)

		syncCopyFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_copy_failures_total",
				Help: "Total number of per-file copy failures, labeled by direction.",
			},
			[]string{"direction"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLaunch counts one launched partition task.
func ObserveLaunch(flavor string) {
	batchTasksLaunchedTotal.WithLabelValues(flavor).Inc()
}

// ObserveLaunchFailure counts one partition the cluster could not place.
func ObserveLaunchFailure(flavor string) {
	batchLaunchFailuresTotal.WithLabelValues(flavor).Inc()
}

// ObserveRollbackStop counts one task stopped while rolling back a
// partially provisioned submission.
func ObserveRollbackStop() {
	batchTasksStoppedTotal.Inc()
}

// ObserveWait records how long the completion barrier held.
func ObserveWait(duration time.Duration) {
	batchWaitDurationSeconds.Observe(duration.Seconds())
}

// ObserveNonzeroExit counts one partition that exited non-zero.
func ObserveNonzeroExit(flavor string) {
	batchNonzeroExitsTotal.WithLabelValues(flavor).Inc()
}

// ObserveReduce records one completed reduction over n partition files.
func ObserveReduce(tag string, n int, duration time.Duration) {
	reducePartitionsMergedTotal.WithLabelValues(tag).Add(float64(n))
	reduceDurationSeconds.WithLabelValues(tag).Observe(duration.Seconds())
}

// ObserveSyncCopy counts one file copied between realms.
func ObserveSyncCopy(direction string) {
	syncFilesCopiedTotal.WithLabelValues(direction).Inc()
}

// ObserveSyncSkip counts one file skipped as already up to date.
func ObserveSyncSkip(direction string) {
	syncFilesSkippedTotal.WithLabelValues(direction).Inc()
}

// ObserveSyncFailure counts one per-file copy failure.
func ObserveSyncFailure(direction string) {
	syncCopyFailuresTotal.WithLabelValues(direction).Inc()
}
