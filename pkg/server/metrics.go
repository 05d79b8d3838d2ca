package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	wbaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wba_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	wbaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wba_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	wbaAuthAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wba_auth_attempts_total",
		Help: "Total authentication attempts by credential mode and verdict.",
	}, []string{"mode", "result"})

	wbaTokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wba_tokens_issued_total",
		Help: "Total access tokens issued after successful verification.",
	})

	wbaHostedDIDTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wba_hosted_did_processed_total",
		Help: "Total hosted-DID submissions processed by outcome.",
	}, []string{"result"})
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

		wbaRequestsTotal.WithLabelValues(method, path, status).Inc()
		wbaRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAuthAttempt records one credential check by mode ("bearer",
// "single-way", "two-way") and verdict.
func RecordAuthAttempt(mode string, accepted bool) {
	if accepted {
		wbaAuthAttemptsTotal.WithLabelValues(mode, "accepted").Inc()
	} else {
		wbaAuthAttemptsTotal.WithLabelValues(mode, "rejected").Inc()
	}
}

// RecordTokenIssued records one access token mint.
func RecordTokenIssued() {
	wbaTokensIssuedTotal.Inc()
}

// RecordHostedDID records one hosted-DID submission outcome ("published" or
// "rejected").
func RecordHostedDID(result string) {
	wbaHostedDIDTotal.WithLabelValues(result).Inc()
}
