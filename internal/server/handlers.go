package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthTimeout = 5 * time.Second

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Catalog string `json:"catalog,omitempty"`
}

// handleHealth reports liveness. With a catalog database attached it also
// runs a quick check and answers 503 when that fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Service: "macroecon"}
	if s.catalogDB == nil {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.catalogDB.HealthCheck(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Catalog health check failed")
		resp.Status, resp.Catalog = "degraded", err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Catalog = "ok"
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Int("status", status).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
