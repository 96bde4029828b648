package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports the state of the database and optional backends.
type HealthHandler struct {
	DB     *sql.DB
	Checks map[string]HealthCheck
}

// Check handles GET /api/health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]string{"database": "ok"}

	if err := h.DB.PingContext(ctx); err != nil {
		status = "unhealthy"
		checks["database"] = err.Error()
	}
	for name, check := range h.Checks {
		checks[name] = "ok"
		if err := check(ctx); err != nil {
			status = "unhealthy"
			checks[name] = err.Error()
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	jsonResponse(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}
