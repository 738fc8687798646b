package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordchain_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	rcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recordchain_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	rcBlocksAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordchain_blocks_appended_total",
		Help: "Total ledger blocks appended.",
	})

	rcAppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recordchain_append_duration_seconds",
		Help:    "Time to seal and persist a block, including the content store write.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	rcAppendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordchain_append_failures_total",
		Help: "Failed record uploads by cause.",
	}, []string{"cause"})

	rcValidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordchain_validation_failures_total",
		Help: "Ledger verifications that found an invalid block.",
	})

	rcHealthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recordchain_health_probes_total",
		Help: "Background health probes by component and result.",
	}, []string{"component", "result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		rcRequestsTotal.WithLabelValues(method, path, status).Inc()
		rcRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records a successful block append and how long it took.
func RecordAppend(d time.Duration) {
	rcBlocksAppendedTotal.Inc()
	rcAppendDuration.Observe(d.Seconds())
}

// RecordAppendFailure records a failed upload by cause.
func RecordAppendFailure(cause string) {
	rcAppendFailuresTotal.WithLabelValues(cause).Inc()
}

// RecordValidationFailure records a verification that found tampering.
func RecordValidationFailure() {
	rcValidationFailuresTotal.Inc()
}

// RecordHealthProbe records the outcome of a background health probe.
func RecordHealthProbe(component string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	rcHealthProbesTotal.WithLabelValues(component, result).Inc()
}
