package handler

import "net/http"

// StatusHandler serves a snapshot of the running agent.
type StatusHandler struct {
	snapshot func() any
}

// NewStatusHandler creates a handler serving snapshot().
func NewStatusHandler(snapshot func() any) *StatusHandler {
	return &StatusHandler{snapshot: snapshot}
}

// GetStatus responds with the current snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}
