package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "po_approvals_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "po_approvals_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "po_approvals_transitions_total",
			Help: "Workflow actions by action and outcome code",
		},
		[]string{"action", "outcome"},
	)

	transitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "po_approvals_transition_duration_seconds",
			Help:    "Time spent applying a workflow action",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	evidenceUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "po_approvals_evidence_uploads_total",
			Help: "Evidence uploads by status",
		},
		[]string{"status"},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "po_approvals_events_published_total",
			Help: "Workflow events published to the message bus",
		},
		[]string{"event", "status"},
	)
)

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTransition records a workflow action. outcome is "ok" or an error code.
func RecordTransition(action, outcome string, duration time.Duration) {
	transitionsTotal.WithLabelValues(action, outcome).Inc()
	transitionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func RecordEvidenceUpload(status string) {
	evidenceUploadsTotal.WithLabelValues(status).Inc()
}

func RecordEventPublished(event, status string) {
	eventsPublishedTotal.WithLabelValues(event, status).Inc()
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
