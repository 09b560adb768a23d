// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "expense_tracker"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Signup, login and password change attempts by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	expenseOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expenses",
			Name:      "operations_total",
		},
		[]string{"operation", "outcome"},
	)

	reportCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "cache_lookups_total",
		},
		[]string{"report", "result"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
		},
		[]string{"type", "outcome"},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Expense events handled by the consumer.",
		},
		[]string{"type", "outcome"},
	)

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
	})

	suspiciousRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "security",
		Name:      "suspicious_requests_total",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records a finished request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// AuthAttempt records an auth operation outcome.
func AuthAttempt(operation, outcome string) {
	authAttempts.WithLabelValues(operation, outcome).Inc()
}

// ExpenseOp records an expense operation outcome.
func ExpenseOp(operation, outcome string) {
	expenseOps.WithLabelValues(operation, outcome).Inc()
}

// ReportCacheLookup records a report cache hit or miss.
func ReportCacheLookup(report string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	reportCache.WithLabelValues(report, result).Inc()
}

// EventPublished records an event publish outcome.
func EventPublished(eventType, outcome string) {
	eventsPublished.WithLabelValues(eventType, outcome).Inc()
}

// EventConsumed records how the consumer handled an event. Outcome is one
// of the Outcome values or "duplicate".
func EventConsumed(eventType, outcome string) {
	eventsConsumed.WithLabelValues(eventType, outcome).Inc()
}

// RateLimited records a rejected request.
func RateLimited() {
	rateLimited.Inc()
}

// SuspiciousRequest records a request flagged by the detector.
func SuspiciousRequest() {
	suspiciousRequests.Inc()
}
