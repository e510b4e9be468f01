package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/debatecast/internal/health"
)

// readyTimeout bounds the whole readiness probe.
const readyTimeout = 5 * time.Second

// HealthHandlers provides liveness and readiness endpoints.
type HealthHandlers struct {
	checkers map[string]health.Checker
	now      func() time.Time
}

// NewHealthHandlers creates the health endpoints. checkers maps a dependency
// name ("database", "redis", "livekit") to its check; absent dependencies
// run in memory and are reported as "in_memory".
func NewHealthHandlers(checkers map[string]health.Checker) *HealthHandlers {
	return &HealthHandlers{checkers: checkers, now: time.Now}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe). Any failing dependency makes
// the service unready with 503.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.checkers))
	for name, c := range h.checkers {
		if c == nil {
			checks[name] = "in_memory"
		}
	}

	healthy := true
	for _, res := range health.RunAll(ctx, h.checkers) {
		if res.Err != nil {
			healthy = false
			checks[res.Name] = "error"
			slog.WarnContext(ctx, "health check failed",
				slog.String("dependency", res.Name),
				slog.String("error", res.Err.Error()),
			)
			continue
		}
		checks[res.Name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}
