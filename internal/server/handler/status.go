package handler

import (
	"net/http"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// StatusHandler serves the operational summary for the dashboard.
type StatusHandler struct {
	status func() domain.BotStatus
}

// NewStatusHandler creates a StatusHandler reading from status.
func NewStatusHandler(status func() domain.BotStatus) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with the current mode, identities and gate state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := h.status()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           s.Mode,
		"operator":       s.Operator,
		"custody":        s.Custody,
		"in_call":        s.InCall,
		"uptime_seconds": s.UptimeSeconds,
		"executions":     s.Executions,
		"strategies":     s.Strategies,
	})
}
