package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Outbound webhook metrics
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Total number of analysis webhook calls by status class",
		},
		[]string{"status_class"},
	)

	WebhookRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_request_duration_seconds",
			Help:    "Analysis webhook call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	// Business metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Total number of analyses by outcome",
		},
		[]string{"outcome"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of live analyzer sessions",
		},
	)

	SessionSubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_subscribers_active",
			Help: "Number of open session event streams",
		},
	)
)

// StatusClass buckets an HTTP status code as 2xx, 4xx, ... or "error" when no response arrived
func StatusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "error"
	}
	return string(rune('0'+statusCode/100)) + "xx"
}
