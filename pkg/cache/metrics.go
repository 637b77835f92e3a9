package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Layer labels used by the cache metrics.
const (
	LayerMemory = "memory"
	LayerRedis  = "redis"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artic_cache_hits_total",
			Help: "Total number of API response cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer (memory, redis)
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artic_cache_misses_total",
			Help: "Total number of API response cache misses",
		},
		[]string{"layer"},
	)

	// CacheWrittenBytes tracks bytes written to the cache by layer
	CacheWrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artic_cache_written_bytes_total",
			Help: "Total bytes written to the API response cache",
		},
		[]string{"layer"},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artic_304_responses_total",
			Help: "Total number of 304 Not Modified responses",
		},
	)

	// ConditionalRequestsSent tracks revalidation requests
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artic_conditional_requests_total",
			Help: "Total number of conditional requests sent",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artic_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
