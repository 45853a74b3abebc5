// Package middleware provides the HTTP middleware chain: bearer
// authentication, request ids, panic recovery and rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/contextkeys"
	"github.com/meridianhq/meridian/pkg/httputil"
)

// PrincipalResolver turns a bearer token into a principal.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, bearer string) (*auth.Principal, error)
}

// Auth rejects requests without a resolvable bearer token. All failures
// yield the same 401 body.
type Auth struct {
	resolver PrincipalResolver
}

// NewAuth builds the middleware.
func NewAuth(resolver PrincipalResolver) *Auth {
	return &Auth{resolver: resolver}
}

// Handler enforces authentication and stores the principal in the request
// context.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.WriteUnauthorized(w)
			return
		}
		principal, err := a.resolver.ResolvePrincipal(r.Context(), token)
		if err != nil {
			httputil.WriteUnauthorized(w)
			return
		}
		ctx := contextkeys.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetPrincipal returns the authenticated principal, or nil outside the
// auth middleware.
func GetPrincipal(r *http.Request) *auth.Principal {
	principal, _ := contextkeys.Principal(r.Context()).(*auth.Principal)
	return principal
}
