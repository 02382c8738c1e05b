// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits counts composite read hits by the level that served them.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracketd_cache_hits_total",
			Help: "Cache hits by serving backend",
		},
		[]string{"backend"},
	)

	// CacheMisses counts reads that fell through every backend.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bracketd_cache_misses_total",
			Help: "Cache reads that missed every backend",
		},
	)

	// UpstreamRequests counts dispatched upstream attempts by outcome.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bracketd_upstream_requests_total",
			Help: "Upstream GraphQL attempts by outcome",
		},
		[]string{"outcome"},
	)

	// UpstreamRetries counts 429 backoff retries.
	UpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bracketd_upstream_retries_total",
			Help: "Upstream retries triggered by rate limiting",
		},
	)

	// CoalescedReads counts waiters that shared another caller's fetch.
	CoalescedReads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bracketd_coalesced_reads_total",
			Help: "Reads coalesced into an in-flight upstream fetch",
		},
	)

	// RequestDuration observes handler latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bracketd_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"route", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
