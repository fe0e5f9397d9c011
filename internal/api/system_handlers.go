package api

import (
	"errors"
	"net/http"
	"time"

	"doorpasses/internal/storage"
)

// handleHealth reports process liveness.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	}{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)})
}

// handleReady reports readiness by exercising the store. A miss on a
// sentinel lookup still proves the backend answers queries.
// GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, err := s.store.GetOrganization(ctx, "readiness-probe")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.writeErr(ctx, w, http.StatusServiceUnavailable, "store unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ready"})
}
