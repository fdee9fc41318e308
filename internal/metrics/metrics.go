// Package metrics registers the service's prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitlog_records_ingested_total",
			Help: "Records appended to partition files, by category",
		},
		[]string{"category"},
	)

	IngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitlog_ingest_errors_total",
			Help: "Rejected or failed uploads, by category and error code",
		},
		[]string{"category", "code"},
	)

	CorruptLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitlog_corrupt_lines_total",
			Help: "Partition lines skipped because they are not valid JSON",
		},
		[]string{"category"},
	)

	HitmapViewSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hitlog_hitmap_view_records",
			Help: "Number of records in the last aggregated hitmap view",
		},
	)

	PartitionsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hitlog_partitions_removed_total",
			Help: "Partitions deleted by the retention cleaner",
		},
	)

	PartitionsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hitlog_partitions_archived_total",
			Help: "Partitions compressed into .log.zst archives",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hitlog_http_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordAPIRequest observes one finished HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
