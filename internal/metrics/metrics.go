package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for gatekeeper
type Metrics struct {
	// HTTP client metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Session manager metrics
	SessionTransitions *prometheus.CounterVec
	SessionInvalidated prometheus.Counter

	// Guard metrics
	GuardDecisions *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of identity API requests",
			},
			[]string{"method", "status_class"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "Identity API request latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_session_operations_total",
				Help: "Total number of session operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		SessionInvalidated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_session_invalidations_total",
				Help: "Sessions cleared after the identity API answered 401",
			},
		),

		GuardDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_guard_decisions_total",
				Help: "Total number of route guard decisions",
			},
			[]string{"decision"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// StatusClass buckets an HTTP status into "2xx".."5xx". Zero means no
// response was received.
func StatusClass(status int) string {
	if status <= 0 {
		return "none"
	}
	return strconv.Itoa(status/100) + "xx"
}

// RecordHTTPRequest counts one dispatched request. A nil receiver is a no-op.
func (m *Metrics) RecordHTTPRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, StatusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordSessionOperation counts a login/register/logout/refresh outcome.
func (m *Metrics) RecordSessionOperation(operation string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.SessionTransitions.WithLabelValues(operation, outcome).Inc()
}

// RecordInvalidation counts a 401-driven session clear.
func (m *Metrics) RecordInvalidation() {
	if m == nil {
		return
	}
	m.SessionInvalidated.Inc()
}

// RecordGuardDecision counts one guard evaluation.
func (m *Metrics) RecordGuardDecision(decision string) {
	if m == nil {
		return
	}
	m.GuardDecisions.WithLabelValues(decision).Inc()
}

// RecordError counts a coded error.
func (m *Metrics) RecordError(code, component string) {
	if m == nil || code == "" {
		return
	}
	m.Errors.WithLabelValues(code, component).Inc()
}
