package observability

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meridianhq/meridian/pkg/httputil"
)

// HealthChecker probes the service's backing dependencies.
type HealthChecker struct {
	db     *sql.DB
	redis  *redis.Client
	logger *Logger
}

// NewHealthChecker builds a checker. Either dependency may be nil and is
// then skipped.
func NewHealthChecker(db *sql.DB, rdb *redis.Client, logger *Logger) *HealthChecker {
	return &HealthChecker{db: db, redis: rdb, logger: logger}
}

// CheckStatus is the health of a single dependency.
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the readiness report body.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckStatus `json:"checks"`
}

// Liveness reports process liveness only.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness probes Postgres and Redis with a short timeout and reports
// aggregate health. Any failing dependency makes the service unready.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Checks: map[string]CheckStatus{}}

	if h.db != nil {
		resp.Checks["database"] = h.checkDatabase(ctx)
	}
	if h.redis != nil {
		resp.Checks["redis"] = h.checkRedis(ctx)
	}

	code := http.StatusOK
	for _, c := range resp.Checks {
		if c.Status != "healthy" {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}
	httputil.WriteJSON(w, code, resp)
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckStatus {
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.WithError(err).Warn("database health check failed")
		return CheckStatus{Status: "unhealthy", Message: err.Error()}
	}
	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		h.logger.WithError(err).Warn("database health query failed")
		return CheckStatus{Status: "unhealthy", Message: err.Error()}
	}
	return CheckStatus{Status: "healthy"}
}

func (h *HealthChecker) checkRedis(ctx context.Context) CheckStatus {
	if err := h.redis.Ping(ctx).Err(); err != nil {
		h.logger.WithError(err).Warn("redis health check failed")
		return CheckStatus{Status: "unhealthy", Message: err.Error()}
	}
	return CheckStatus{Status: "healthy"}
}
