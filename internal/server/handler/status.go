package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports which run mode and background jobs this process
// serves.
type StatusHandler struct {
	Mode      string
	Workers   []string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, workers []string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Workers: workers, StartedAt: startedAt}
}

// GetStatus responds with the run mode, enabled workers and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	workers := h.Workers
	if workers == nil {
		workers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"workers":        workers,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
