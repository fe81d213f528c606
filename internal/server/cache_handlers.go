package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/macroecon/internal/cache"
)

// EntryResponse is a cache entry as listed over HTTP.
type EntryResponse struct {
	Key       string         `json:"key"`
	FetchedAt time.Time      `json:"fetched_at"`
	Stale     bool           `json:"stale"`
	Complete  bool           `json:"complete"`
	SizeBytes int64          `json:"size_bytes"`
	Metadata  map[string]any `json:"metadata"`
}

// handleListEntries lists cache entries. ?stale=true keeps only expired ones.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListEntries()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list cache entries")
		s.writeError(w, http.StatusInternalServerError, "failed to list cache entries")
		return
	}

	onlyStale := r.URL.Query().Get("stale") == "true"
	response := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		if onlyStale && !e.Stale {
			continue
		}
		response = append(response, EntryResponse{
			Key:       e.Key,
			FetchedAt: e.FetchedAt,
			Stale:     e.Stale,
			Complete:  e.Complete,
			SizeBytes: e.Size,
			Metadata:  e.Metadata,
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	err := s.store.Invalidate(key)
	if errors.Is(err, cache.ErrInvalidKey) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Failed to invalidate cache entry")
		s.writeError(w, http.StatusInternalServerError, "failed to invalidate cache entry")
		return
	}
	s.memo.Flush()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearAll(); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear cache")
		s.writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	s.memo.Flush()
	w.WriteHeader(http.StatusNoContent)
}
