// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for the conversations API.
// Metrics() measures request counts, latencies, in-flight concurrency, and
// response sizes, with label cardinality kept bounded:
//
//   - method: HTTP verb (GET/POST/...)
//   - path:   the registered route pattern, e.g.
//     /api/v1/conversations/:conversation_id/messages or /shared/:token;
//     falls back to the raw URL path only when no route matched
//   - status: numeric status code as a string ("200", "429", "502")
//
// Route patterns rather than raw URLs keep the path label finite even though
// every conversation has its own UUID and every share its own token. All
// collectors are safe for concurrent use.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// httpRequests counts requests by method, route, and status. Status 502
	// and 503 on the message-send route are the AI upstream failing; 429 is
	// the rate limiter refusing work.
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLatency records request duration by method and route. Status is
	// omitted to keep histogram cardinality down. The default buckets reach
	// 10s, which covers message sends that wait on the AI backend.
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpInFlight gauges requests currently being processed.
	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// httpResponseBytes captures response sizes by method and route. Buckets
	// span small JSON envelopes up to full message listings and shared
	// transcripts.
	httpResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 500, 1 << 10, 2 << 10, 5 << 10,
				10 << 10, 25 << 10, 50 << 10,
				100 << 10, 250 << 10, 500 << 10,
				1 << 20, 2 << 20, 5 << 20,
			},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency, httpInFlight, httpResponseBytes)
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// Per request it increments http_requests_total, observes
// http_request_duration_seconds and http_response_size_bytes, and tracks the
// http_requests_inflight gauge across handler execution. A negative response
// size (hijacked or bodiless responses) is skipped rather than recorded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())
		size := c.Writer.Size()

		httpRequests.WithLabelValues(method, path, status).Inc()
		httpLatency.WithLabelValues(method, path).Observe(dur)
		if size >= 0 {
			httpResponseBytes.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
