// Package contextkeys defines the typed context keys shared across the
// service so packages do not collide on raw string keys.
package contextkeys

import "context"

// Key is the private type used for all context values set by this module.
type Key string

const (
	// RequestIDKey carries the per-request correlation id.
	RequestIDKey Key = "request_id"
	// PrincipalKey carries the authenticated principal resolved from the
	// bearer token.
	PrincipalKey Key = "principal"
	// LoggerKey carries a request-scoped logger.
	LoggerKey Key = "logger"
)

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id from the context, or "" when absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal any) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// Principal returns the raw principal value stored in the context. Callers
// type-assert to the concrete principal type.
func Principal(ctx context.Context) any {
	return ctx.Value(PrincipalKey)
}
