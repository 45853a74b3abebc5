package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegisterAndExpose(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RBACDecisionsTotal.WithLabelValues("true").Inc()
	m.RBACCacheHitsTotal.Inc()
	m.RBACCacheMissesTotal.Inc()
	m.RBACReloadsTotal.WithLabelValues("ok").Inc()
	m.SessionsCreatedTotal.Inc()
	m.SessionRefreshesTotal.WithLabelValues("ok").Inc()
	m.PasswordResetsRequested.WithLabelValues("issued").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, metric := range []string{
		"meridian_rbac_decisions_total",
		"meridian_rbac_cache_hits_total",
		"meridian_rbac_cache_misses_total",
		"meridian_rbac_reloads_total",
		"meridian_sessions_created_total",
		"meridian_session_refreshes_total",
		"meridian_password_reset_requests_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("exposition missing %s", metric)
		}
	}
}

func TestHTTPMiddlewareRecords(t *testing.T) {
	m := NewMetrics(nil)
	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("middleware altered status: %d", rec.Code)
	}

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metricsRec.Body.String(), `status="418"`) {
		t.Fatal("request was not recorded")
	}
}
