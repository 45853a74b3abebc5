package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector exported by the service.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	RBACDecisionsTotal   *prometheus.CounterVec
	RBACCacheHitsTotal   prometheus.Counter
	RBACCacheMissesTotal prometheus.Counter
	RBACReloadsTotal     *prometheus.CounterVec
	RBACReloadDuration   prometheus.Histogram

	SessionsCreatedTotal    prometheus.Counter
	SessionRefreshesTotal   *prometheus.CounterVec
	SessionsRevokedTotal    prometheus.Counter
	PasswordResetsRequested *prometheus.CounterVec
}

// NewMetrics registers all collectors on the given registry. A nil registry
// creates a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_http_requests_total",
			Help: "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meridian_http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		RBACDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_rbac_decisions_total",
			Help: "Authorization decisions by outcome.",
		}, []string{"allowed"}),
		RBACCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_rbac_cache_hits_total",
			Help: "Decision cache hits.",
		}),
		RBACCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_rbac_cache_misses_total",
			Help: "Decision cache misses.",
		}),
		RBACReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_rbac_reloads_total",
			Help: "Policy reloads by status.",
		}, []string{"status"}),
		RBACReloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meridian_rbac_reload_duration_seconds",
			Help:    "Time spent rebuilding the policy model.",
			Buckets: prometheus.DefBuckets,
		}),
		SessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_sessions_created_total",
			Help: "Sessions created by login or SSO.",
		}),
		SessionRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_session_refreshes_total",
			Help: "Refresh-token rotations by status.",
		}, []string{"status"}),
		SessionsRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meridian_sessions_revoked_total",
			Help: "Sessions revoked by logout.",
		}),
		PasswordResetsRequested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meridian_password_reset_requests_total",
			Help: "Password reset requests by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RBACDecisionsTotal,
		m.RBACCacheHitsTotal,
		m.RBACCacheMissesTotal,
		m.RBACReloadsTotal,
		m.RBACReloadDuration,
		m.SessionsCreatedTotal,
		m.SessionRefreshesTotal,
		m.SessionsRevokedTotal,
		m.PasswordResetsRequested,
	)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request counts and latency. Path should already be
// the route template, not the raw URL, to bound cardinality.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
