// Package api exposes the REST surface: authentication endpoints, RBAC
// administration and the caller's effective permissions.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/rbac"
	"github.com/meridianhq/meridian/pkg/sso"
)

// PermissionManagePolicies guards the RBAC administration endpoints.
const PermissionManagePolicies = "rbac.manage"

// Server holds the router and the services behind it.
type Server struct {
	router      *mux.Router
	authSvc     *auth.Service
	rbacSvc     *rbac.Service
	rbacAdmin   *rbac.Admin
	ssoProvider *sso.Provider
	provisioner *sso.Provisioner
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// Options carries the optional pieces of the server.
type Options struct {
	SSOProvider  *sso.Provider
	Provisioner  *sso.Provisioner
	LoginLimiter *middleware.RateLimiter
	Health       *observability.HealthChecker
}

// NewServer wires the routes. SSO routes appear only when a provider is
// configured.
func NewServer(authSvc *auth.Service, rbacSvc *rbac.Service, rbacAdmin *rbac.Admin,
	logger *observability.Logger, metrics *observability.Metrics, opts Options) *Server {

	s := &Server{
		router:      mux.NewRouter(),
		authSvc:     authSvc,
		rbacSvc:     rbacSvc,
		rbacAdmin:   rbacAdmin,
		ssoProvider: opts.SSOProvider,
		provisioner: opts.Provisioner,
		logger:      logger,
		metrics:     metrics,
	}

	s.router.Use(middleware.Recovery(logger))
	s.router.Use(middleware.RequestID)
	if metrics != nil {
		s.router.Use(metrics.HTTPMiddleware)
	}

	if opts.Health != nil {
		s.router.HandleFunc("/healthz", opts.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", opts.Health.Readiness).Methods(http.MethodGet)
	}
	if metrics != nil {
		s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Public auth endpoints, rate limited where they gate on secrets.
	public := v1.PathPrefix("/auth").Subrouter()
	login := http.Handler(http.HandlerFunc(s.handleLogin))
	forgot := http.Handler(http.HandlerFunc(s.handleForgotPassword))
	if opts.LoginLimiter != nil {
		login = opts.LoginLimiter.Handler(login)
		forgot = opts.LoginLimiter.Handler(forgot)
	}
	public.Handle("/login", login).Methods(http.MethodPost)
	public.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	public.Handle("/password/forgot", forgot).Methods(http.MethodPost)
	public.HandleFunc("/password/reset", s.handleResetPassword).Methods(http.MethodPost)

	if s.ssoProvider != nil {
		public.HandleFunc("/sso/start", s.handleSSOStart).Methods(http.MethodGet)
		public.HandleFunc("/sso/callback", s.handleSSOCallback).Methods(http.MethodGet)
	}

	// Authenticated endpoints.
	authMW := middleware.NewAuth(authSvc)
	private := v1.PathPrefix("/").Subrouter()
	private.Use(authMW.Handler)
	private.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	private.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	private.HandleFunc("/rbac/permissions", s.handleMyPermissions).Methods(http.MethodGet)

	// Admin endpoints behind the policy-management permission.
	enforce := rbac.NewEnforcementMiddleware(rbacSvc, logger)
	admin := v1.PathPrefix("/rbac").Subrouter()
	admin.Use(authMW.Handler)
	admin.Use(enforce.RequirePermission(PermissionManagePolicies))
	admin.HandleFunc("/roles", s.handleCreateRole).Methods(http.MethodPost)
	admin.HandleFunc("/roles", s.handleListRoles).Methods(http.MethodGet)
	admin.HandleFunc("/roles/{id:[0-9]+}", s.handleDeleteRole).Methods(http.MethodDelete)
	admin.HandleFunc("/permissions/catalog", s.handleCreatePermission).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id:[0-9]+}/permissions", s.handleGrantPermission).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id:[0-9]+}/permissions/{pid:[0-9]+}", s.handleRevokePermission).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{id:[0-9]+}/role", s.handleAssignRole).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id:[0-9]+}/role", s.handleClearRole).Methods(http.MethodDelete)
	admin.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
