package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision(true, "")
	m.RecordDecision(false, "cross_tenant")
	m.RecordDecision(false, "cross_tenant")
	m.RecordAuditWriteFailure("security_event")
	m.RecordSecurityEvent("critical")
	m.SetRecentSecurityEvents("high", 7)
	m.RecordSessionsRevoked("others", 3)
	m.RecordSessionsRevoked("others", 0)
	m.RecordSessionCreated()
	m.RecordCacheLookup("membership", true)
	m.RecordAuthFailure("invalid_credential")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("allowed", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("denied", "cross_tenant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWriteFailuresTotal.WithLabelValues("security_event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SecurityEventsTotal.WithLabelValues("critical")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.SecurityEventsRecent.WithLabelValues("high")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsRevokedTotal.WithLabelValues("others")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCreatedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextCacheTotal.WithLabelValues("membership", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthFailuresTotal.WithLabelValues("invalid_credential")))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision(false, "missing_permission")
		m.RecordAuditWriteFailure("entry")
		m.RecordSecurityEvent("low")
		m.SetRecentSecurityEvents("low", 1)
		m.RecordSessionsRevoked("single", 1)
		m.RecordSessionCreated()
		m.RecordCacheLookup("admin", false)
		m.RecordAuthFailure("throttled")
	})
}

func TestHTTPMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("DELETE", "/api/v1/sessions/{id}", "204")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordDecision(true, "")

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rec := httptest.NewRecorder()
	serveMux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tenantguard_authz_decisions_total")
}
