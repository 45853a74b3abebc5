package rbac

import (
	"net/http"

	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/observability"
)

// EnforcementMiddleware guards routes with permission checks. It must run
// after the authentication middleware; a missing principal is a 401, a
// denied or undecidable check is a 403.
type EnforcementMiddleware struct {
	svc    *Service
	logger *observability.Logger
}

// NewEnforcementMiddleware builds the middleware.
func NewEnforcementMiddleware(svc *Service, logger *observability.Logger) *EnforcementMiddleware {
	if logger == nil {
		logger = observability.NewLogger("info")
	}
	return &EnforcementMiddleware{svc: svc, logger: logger}
}

// RequirePermission allows the request only when the caller holds the
// permission within their own organization.
func (m *EnforcementMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return m.RequireAllPermissions(permission)
}

// RequireAllPermissions allows the request only when the caller holds
// every listed permission. Infrastructure failures deny.
func (m *EnforcementMiddleware) RequireAllPermissions(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := middleware.GetPrincipal(r)
			if principal == nil {
				httputil.WriteUnauthorized(w)
				return
			}
			for _, permission := range permissions {
				allowed, err := m.svc.Enforce(r.Context(), principal.UserID, permission, principal.OrganizationID, ActionAccess)
				if err != nil {
					m.logger.WithError(err).WithFields(map[string]any{
						"user_id":    principal.UserID,
						"permission": permission,
					}).Error("enforcement failed, denying")
					httputil.WriteForbidden(w)
					return
				}
				if !allowed {
					httputil.WriteForbidden(w)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
