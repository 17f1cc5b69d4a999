package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
//
// Every Record/Set method is safe to call on a nil *Metrics so components can
// be constructed without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthFailuresTotal   *prometheus.CounterVec
	ContextCacheTotal   *prometheus.CounterVec

	// Audit metrics
	AuditWriteFailuresTotal *prometheus.CounterVec
	SecurityEventsTotal     *prometheus.CounterVec
	SecurityEventsRecent    *prometheus.GaugeVec
	AlertDeliveriesTotal    *prometheus.CounterVec

	// Session metrics
	SessionsCreatedTotal prometheus.Counter
	SessionsRevokedTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_authz_decisions_total",
				Help: "Permission engine decisions by result and denial reason",
			},
			[]string{"result", "reason"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_auth_failures_total",
				Help: "Failed credential validations and context resolutions",
			},
			[]string{"reason"},
		),
		ContextCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_context_cache_total",
				Help: "Membership and admin record cache lookups",
			},
			[]string{"kind", "result"},
		),

		AuditWriteFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_audit_write_failures_total",
				Help: "Audit or security event writes that failed and were recovered",
			},
			[]string{"kind"},
		),
		SecurityEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_security_events_total",
				Help: "Security events recorded by risk level",
			},
			[]string{"risk_level"},
		),
		SecurityEventsRecent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tenantguard_security_events_recent",
				Help: "Security events in the monitor window by risk level",
			},
			[]string{"risk_level"},
		),

		AlertDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_alert_deliveries_total",
				Help: "Security alert webhook deliveries by outcome",
			},
			[]string{"result"},
		),

		SessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantguard_sessions_created_total",
				Help: "Sessions created",
			},
		),
		SessionsRevokedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantguard_sessions_revoked_total",
				Help: "Sessions revoked by mode",
			},
			[]string{"mode"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantguard_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantguard_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthFailuresTotal,
		m.ContextCacheTotal,
		m.AuditWriteFailuresTotal,
		m.SecurityEventsTotal,
		m.SecurityEventsRecent,
		m.AlertDeliveriesTotal,
		m.SessionsCreatedTotal,
		m.SessionsRevokedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordDecision counts one permission engine decision.
func (m *Metrics) RecordDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.AuthzDecisionsTotal.WithLabelValues(result, reason).Inc()
}

// RecordAuthFailure counts a rejected credential or failed resolution.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordCacheLookup counts a context cache hit or miss.
func (m *Metrics) RecordCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ContextCacheTotal.WithLabelValues(kind, result).Inc()
}

// RecordAuditWriteFailure counts an audit write that failed and was recovered.
func (m *Metrics) RecordAuditWriteFailure(kind string) {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordSecurityEvent counts a persisted security event.
func (m *Metrics) RecordSecurityEvent(riskLevel string) {
	if m == nil {
		return
	}
	m.SecurityEventsTotal.WithLabelValues(riskLevel).Inc()
}

// SetRecentSecurityEvents publishes the monitor window count for a risk level.
func (m *Metrics) SetRecentSecurityEvents(riskLevel string, count int64) {
	if m == nil {
		return
	}
	m.SecurityEventsRecent.WithLabelValues(riskLevel).Set(float64(count))
}

// RecordAlertDelivery counts one alert webhook delivery. result is
// "delivered", "failed", "dropped" or "rate_limited".
func (m *Metrics) RecordAlertDelivery(result string) {
	if m == nil {
		return
	}
	m.AlertDeliveriesTotal.WithLabelValues(result).Inc()
}

// RecordSessionCreated counts a created session.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreatedTotal.Inc()
}

// RecordSessionsRevoked counts revoked sessions. mode is "single" or "others".
func (m *Metrics) RecordSessionsRevoked(mode string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.SessionsRevokedTotal.WithLabelValues(mode).Add(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled with the mux path template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
