// Package middleware provides HTTP middleware for the core API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderhq_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenderhq_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Domain metrics, incremented by handlers at commit points.
	registrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tenderhq_registrations_total",
			Help: "Total number of completed registrations",
		},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderhq_logins_total",
			Help: "Total login attempts by outcome",
		},
		[]string{"outcome"},
	)

	ledgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderhq_ledger_entries_total",
			Help: "Total ledger entries written by direction",
		},
		[]string{"direction"},
	)

	holdsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderhq_credit_holds_total",
			Help: "Total credit hold outcomes",
		},
		[]string{"outcome"},
	)

	approvalTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderhq_approval_transitions_total",
			Help: "Total approval request transitions by target status",
		},
		[]string{"to_status"},
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenderhq_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)
)

// RecordRegistration increments the registration counter.
func RecordRegistration() {
	registrationsTotal.Inc()
}

// RecordLogin increments the login counter with the given outcome.
func RecordLogin(outcome string) {
	loginsTotal.WithLabelValues(outcome).Inc()
}

// RecordLedgerEntry increments the ledger entry counter for a direction.
func RecordLedgerEntry(direction string) {
	ledgerEntriesTotal.WithLabelValues(direction).Inc()
}

// RecordHold increments the hold counter: placed, released or converted.
func RecordHold(outcome string) {
	holdsTotal.WithLabelValues(outcome).Inc()
}

// RecordApprovalTransition increments the transition counter.
func RecordApprovalTransition(toStatus string) {
	approvalTransitionsTotal.WithLabelValues(toStatus).Inc()
}

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)
			path := normalizePath(r)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

			if wrapped.status >= 400 {
				errorType := "client_error"
				if wrapped.status >= 500 {
					errorType = "server_error"
				}
				errorsTotal.WithLabelValues(errorType).Inc()
			}
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths to prevent cardinality explosion.
func normalizePath(r *http.Request) string {
	// Prefer the chi route pattern when available
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}

	// Fallback: collapse UUID segments
	segments := strings.Split(r.URL.Path, "/")
	for i, seg := range segments {
		if len(seg) == 36 && strings.Count(seg, "-") == 4 {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}
