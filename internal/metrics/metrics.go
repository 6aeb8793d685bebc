// Package metrics exposes Prometheus collectors for the ingest and search
// paths. Collectors are registered on the default registry at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntitiesIndexed counts successful bulk operations per target index.
	EntitiesIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openaleph_search_entities_indexed_total",
		Help: "Total number of successfully indexed bulk actions",
	}, []string{"index"})

	// BulkFailures counts per-item bulk failures per target index.
	BulkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openaleph_search_bulk_failures_total",
		Help: "Total number of failed bulk actions",
	}, []string{"index"})

	// ChunkDuration observes the wall time of one bulk chunk flush.
	ChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "openaleph_search_bulk_chunk_seconds",
		Help:    "Bulk chunk flush duration",
		Buckets: prometheus.DefBuckets,
	})

	// SearchRequests counts compiled searches by query kind.
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openaleph_search_requests_total",
		Help: "Total number of search requests by query kind",
	}, []string{"kind"})

	// SearchDuration observes request latency by query kind.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "openaleph_search_request_seconds",
		Help:    "Search request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// ReaperDeleted counts documents removed by the duplicate reaper.
	ReaperDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openaleph_search_reaper_deleted_total",
		Help: "Total number of cross-bucket duplicates deleted",
	})
)
