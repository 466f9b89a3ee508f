package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesentry_http_requests_total",
		Help: "HTTP requests by method, path and status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codesentry_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// WebhookEvents counts accepted webhook deliveries by event and action.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesentry_webhook_events_total",
		Help: "Webhook deliveries accepted for processing.",
	}, []string{"event", "action"})

	// AnalysisRuns counts pipeline runs by how they ended.
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codesentry_analysis_runs_total",
		Help: "Analysis runs by terminal outcome.",
	}, []string{"outcome"})
)

// Metrics records request count and latency for every route.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
