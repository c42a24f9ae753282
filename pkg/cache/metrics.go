package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheWrites tracks successful writes by backend
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mensa_cache_writes_total",
			Help: "Total number of cache entries written",
		},
		[]string{"backend"}, // "disk", "redis", "memory"
	)

	// CacheWrittenBytes tracks payload bytes written by backend
	CacheWrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mensa_cache_written_bytes_total",
			Help: "Total payload bytes written to the cache",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mensa_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "read", "write", "metadata", "clear", "list"
	)
)

func recordWrite(backend string, size int) {
	CacheWrites.WithLabelValues(backend).Inc()
	CacheWrittenBytes.WithLabelValues(backend).Add(float64(size))
}
