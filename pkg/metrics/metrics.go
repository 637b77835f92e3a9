// Package metrics exposes the Prometheus registry shared by the gallery.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, gallery) to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the gallery.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Gallery Metrics (pkg/gallery):
//   - gallery_page_loads_total{outcome} (Counter): Page loads by outcome
//     (success, network, http, out_of_range, not_found, rejected)
//   - gallery_stale_responses_total (Counter): Responses discarded after a newer navigation
//
// Request Budget Metrics (pkg/ratelimit):
//   - artic_rate_limit_requests_used (Gauge): Requests in the current window
//   - artic_rate_limit_blocks_total (Counter): Requests blocked with the budget spent
//   - artic_rate_limit_throttles_total (Counter): Requests delayed past the warning threshold
//
// Cache Metrics (pkg/cache):
//   - artic_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - artic_cache_misses_total{layer} (Counter): Cache misses by layer consulted
//   - artic_cache_written_bytes_total{layer} (Counter): Bytes written by layer
//   - artic_304_responses_total (Counter): 304 Not Modified responses
//   - artic_conditional_requests_total (Counter): Conditional requests sent
//   - artic_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - artic_requests_total{route, status} (Counter): Requests by route and outcome
//   - artic_request_duration_seconds{route} (Histogram): Request duration by route
//   - artic_errors_total{class} (Counter): Errors by class
//   - artic_coalesced_requests_total (Counter): Calls sharing an in-flight request
//   - artic_circuit_breaker_state (Gauge): 0=closed, 1=half-open, 2=open
//
// HTTP Server Metrics (internal/server):
//   - gallery_http_requests_total{route, code} (Counter): Served requests
//   - gallery_http_request_duration_seconds{route} (Histogram): Serving latency
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate per layer
//   sum by (layer) (rate(artic_cache_hits_total[5m])) /
//   (sum by (layer) (rate(artic_cache_hits_total[5m])) + sum by (layer) (rate(artic_cache_misses_total[5m])))
//
//   # Budget nearly spent
//   artic_rate_limit_requests_used > 48
//
//   # Failed gallery loads
//   sum by (outcome) (rate(gallery_page_loads_total{outcome!="success"}[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(artic_request_duration_seconds_bucket[5m]))
