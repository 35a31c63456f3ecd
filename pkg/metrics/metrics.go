package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global metrics. promauto registers them with the default registry, which is
// what the /metrics endpoint serves.

var (
	// CacheLookups counts cache lookups on the read path, labeled by result:
	// "hit", "tombstone" (a hit on a known-absent key) or "miss".
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcache_cache_lookups_total",
			Help: "Total number of cache lookups by result",
		},
		[]string{"result"},
	)

	// CacheEvictions counts entries dropped because the cache was full.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txcache_cache_evictions_total",
			Help: "Total number of LRU evictions",
		},
	)

	// CacheEntries tracks the number of cached entries, tombstones included.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txcache_cache_entries",
			Help: "Current number of cache entries",
		},
	)

	// StoreOps counts calls to the backing store, labeled by backend,
	// operation and status ("ok" or "error").
	StoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcache_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"backend", "op", "status"},
	)

	// StoreDuration measures store latency. Buckets go from a memory hit to a
	// full rewrite of a large flat file.
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txcache_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "op"},
	)

	// Transactions counts finished transactions by outcome:
	// "commit", "abort", "commit_failed" or "partial".
	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcache_transactions_total",
			Help: "Total number of finished transactions by outcome",
		},
		[]string{"outcome"},
	)

	// CommitDuration measures the time commit holds the store and cache locks.
	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txcache_commit_duration_seconds",
			Help:    "Duration of the commit critical section in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	// ActiveSessions tracks sessions held by the HTTP server.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txcache_sessions_active",
			Help: "Current number of open server sessions",
		},
	)

	// HttpRequestsTotal counts HTTP requests by method, path and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcache_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures server response time.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txcache_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)
)
