package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	InvitationsTotal    *prometheus.CounterVec
	PasswordResetsTotal *prometheus.CounterVec
	SignInsTotal        *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	ReclaimedTotal      *prometheus.CounterVec
	RateLimitedTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "academy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_invitations_total",
				Help: "Invitation lifecycle transitions by outcome",
			},
			[]string{"outcome"},
		),
		PasswordResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_password_resets_total",
				Help: "Password reset lifecycle transitions by outcome",
			},
			[]string{"outcome"},
		),
		SignInsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_sign_ins_total",
				Help: "Credential sign-in attempts by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_notifications_total",
				Help: "Outbound emails by kind and status",
			},
			[]string{"kind", "status"},
		),
		ReclaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_reclaimed_records_total",
				Help: "Expired or spent records physically deleted",
			},
			[]string{"table"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "academy_rate_limited_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvitationsTotal,
		m.PasswordResetsTotal,
		m.SignInsTotal,
		m.NotificationsTotal,
		m.ReclaimedTotal,
		m.RateLimitedTotal,
	)

	return m
}

// RecordInvitation counts an invitation transition (created, accepted, cancelled, rejected)
func (m *Metrics) RecordInvitation(outcome string) {
	if m == nil {
		return
	}
	m.InvitationsTotal.WithLabelValues(outcome).Inc()
}

// RecordPasswordReset counts a reset transition (requested, cooldown, ignored, completed, failed)
func (m *Metrics) RecordPasswordReset(outcome string) {
	if m == nil {
		return
	}
	m.PasswordResetsTotal.WithLabelValues(outcome).Inc()
}

// RecordSignIn counts a sign-in attempt (success, invalid, inactive)
func (m *Metrics) RecordSignIn(outcome string) {
	if m == nil {
		return
	}
	m.SignInsTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification counts an email by kind and whether it was delivered
func (m *Metrics) RecordNotification(kind string, delivered bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !delivered {
		status = "failed"
	}
	m.NotificationsTotal.WithLabelValues(kind, status).Inc()
}

// RecordReclaimed adds n physically deleted rows for table
func (m *Metrics) RecordReclaimed(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReclaimedTotal.WithLabelValues(table).Add(float64(n))
}

// RecordRateLimited counts a rejected request
func (m *Metrics) RecordRateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux path template so tokens in URLs never become labels
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware records request counts and latency per route template.
// Install it with router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
