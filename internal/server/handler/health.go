package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthTimeout bounds the whole probe round.
const healthTimeout = 3 * time.Second

// Check probes one backing service. Returning nil means healthy.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks may be nil.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

// HealthCheck probes every backend in parallel. Any failure makes the
// response a 503 naming the failing dependency; the engine itself has no
// probe since it lives in-process.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		deps = make(map[string]string, len(h.checks))
		g    errgroup.Group
	)
	for name, check := range h.checks {
		g.Go(func() error {
			result := "ok"
			if err := check(ctx); err != nil {
				h.logger.WarnContext(ctx, "handler: health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				result = err.Error()
			}
			mu.Lock()
			deps[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status, overall := http.StatusOK, "ok"
	for _, v := range deps {
		if v != "ok" {
			status, overall = http.StatusServiceUnavailable, "degraded"
			break
		}
	}
	writeJSON(w, status, map[string]any{
		"status":       overall,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
