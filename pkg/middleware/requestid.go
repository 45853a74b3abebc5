package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/pkg/contextkeys"
)

// RequestIDHeader is echoed back to the client and accepted from trusted
// upstream proxies.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation id and stores it in the
// context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := contextkeys.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
