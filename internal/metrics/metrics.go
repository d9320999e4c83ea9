// README: Prometheus instrumentation shared by the bus, job orchestrator,
// and HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luckygas_bus_events_published_total",
		Help: "Events published to the bus, by kind.",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luckygas_bus_events_dropped_total",
		Help: "Events dropped because a subscriber queue was full.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "luckygas_bus_active_connections",
		Help: "Open websocket connections.",
	})

	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luckygas_jobs_started_total",
		Help: "Jobs picked up by workers, by kind.",
	}, []string{"kind"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luckygas_jobs_finished_total",
		Help: "Jobs finished, by kind and terminal status.",
	}, []string{"kind", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "luckygas_job_duration_seconds",
		Help:    "Job run time by kind.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})

	MatrixCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luckygas_matrix_cache_hits_total",
		Help: "Travel matrix cache hits.",
	})

	MatrixCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "luckygas_matrix_cache_misses_total",
		Help: "Travel matrix cache misses.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "luckygas_http_requests_total",
		Help: "HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})
)
