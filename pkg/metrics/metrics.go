// Package metrics provides the Prometheus registry and HTTP handler for the
// mensa client. All metrics are defined in their respective packages (cache,
// request, client, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the mensa client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer exposes the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - mensa_cache_writes_total{backend} (Counter): Successful writes by backend (disk, redis, memory)
//   - mensa_cache_written_bytes_total{backend} (Counter): Payload bytes written by backend
//   - mensa_cache_errors_total{operation} (Counter): Store operation errors
//
// Fetch Metrics (pkg/client):
//   - mensa_cache_lookups_total{result} (Counter): Probes by result (hit, stale, miss, error)
//   - mensa_not_modified_total (Counter): 304 responses answered from cache
//   - mensa_revalidation_fallbacks_total (Counter): Revalidations retried unconditionally
//   - mensa_upstream_errors_total{class} (Counter): Status errors by class (client, server, unexpected)
//
// Request Metrics (pkg/request):
//   - mensa_requests_total{host, status} (Counter): Upstream requests by host and HTTP status
//   - mensa_request_duration_seconds{host} (Histogram): Request duration by host
//   - mensa_transport_retries_total (Counter): Transport-level retry attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - mensa_rate_limit_waits_total{host} (Counter): Requests delayed by the limiter
//   - mensa_rate_limit_wait_seconds{host} (Histogram): Time spent waiting for a token
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(mensa_cache_lookups_total{result="hit"}[5m])) /
//   sum(rate(mensa_cache_lookups_total[5m]))
//
//   # Revalidations that saved a download
//   rate(mensa_not_modified_total[5m]) /
//   sum(rate(mensa_cache_lookups_total{result="stale"}[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(mensa_request_duration_seconds_bucket[5m]))
