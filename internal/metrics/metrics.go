// Package metrics holds the Prometheus metrics of runstore.
//
// Metrics are registered on a package registry rather than the global one
// so batch commands can push exactly this set to a Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry holds every runstore metric.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Run persistence
	RunsSaved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_runs_saved_total",
			Help: "Total number of runs persisted, by catalog outcome",
		},
		[]string{"catalog"}, // inserted, skipped, failed
	)

	RunsFailed = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_runs_failed_total",
			Help: "Total number of runs that could not be persisted",
		},
	)

	SaveDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runstore_save_duration_seconds",
			Help:    "Time taken to persist one run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	// Run numbers
	NumbersAllocated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_numbers_allocated_total",
			Help: "Total number of run numbers issued, by numbering space",
		},
		[]string{"space"}, // catalog, fallback
	)

	// Degradations
	FieldWarnings = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_field_warnings_total",
			Help: "Total number of fields skipped or degraded",
		},
		[]string{"stage", "reason"}, // stage: write, document
	)

	// Container files
	BytesWritten = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "runstore_container_bytes_total",
			Help: "Total bytes of container files written",
		},
	)

	// Archive
	ArchiveUploads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runstore_archive_uploads_total",
			Help: "Total number of container uploads, by result",
		},
		[]string{"result"}, // success, error
	)

	// Queries
	QueryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "runstore_query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"}, // select_runs, list_devices
	)
)

// ObserveSince records the time elapsed since start on o.
func ObserveSince(o prometheus.Observer, start time.Time) {
	o.Observe(time.Since(start).Seconds())
}

// Push sends the registry to a Pushgateway under job.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
