package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/fetch"
	"github.com/aristath/macroecon/internal/series"
	"github.com/aristath/macroecon/internal/timeseries"
	"github.com/aristath/macroecon/internal/transforms"
)

// SeriesPoint is one observation. Value is null where the data has a gap.
type SeriesPoint struct {
	Date  string   `json:"date"`
	Value *float64 `json:"value"`
}

// SeriesResponse is the data of one node, optionally transformed.
type SeriesResponse struct {
	Tree      string        `json:"tree"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Source    series.Source `json:"source"`
	Transform string        `json:"transform,omitempty"`
	Data      []SeriesPoint `json:"data"`
}

func seriesPoints(f *timeseries.Frame) []SeriesPoint {
	values := f.Values()
	points := make([]SeriesPoint, f.Len())
	for i, ts := range f.Index {
		points[i].Date = ts.Format(timeseries.DateLayout)
		v := values[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			points[i].Value = &v
		}
	}
	return points
}

// handleNodeSeries resolves a node to data through the provider clients.
// Query: start, end (YYYY-MM-DD), provider, transform.
func (s *Server) handleNodeSeries(w http.ResponseWriter, r *http.Request) {
	name, node, err := s.loadNode(r)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	q := r.URL.Query()
	opts := fetch.Options{
		Start:    q.Get("start"),
		End:      q.Get("end"),
		Provider: q.Get("provider"),
	}
	transform := q.Get("transform")
	for _, d := range []string{opts.Start, opts.End} {
		if _, err := timeseries.ParseDate(d); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	memoKey := strings.Join([]string{name, node.Code, opts.Start, opts.End, opts.Provider, transform}, "|")
	if cached, ok := s.memo.Get(memoKey); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	if s.resolver == nil {
		s.writeError(w, http.StatusNotImplemented, "no providers configured")
		return
	}

	frame, src, err := s.resolver.Resolve(r.Context(), node, opts)
	switch {
	case err == nil:
	case errors.Is(err, fetch.ErrNoSource):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, fetch.ErrUnknownProvider):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, cache.ErrCorruptEntry):
		s.log.Error().Err(err).Str("tree", name).Str("code", node.Code).Msg("Cache entry unreadable")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	default:
		s.log.Warn().Err(err).Str("tree", name).Str("code", node.Code).Msg("Series fetch failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if transform != "" {
		frame, err = transforms.Apply(transform, frame)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	response := SeriesResponse{
		Tree:      name,
		Code:      node.Code,
		Name:      node.Name,
		Source:    src,
		Transform: transform,
		Data:      seriesPoints(frame),
	}
	s.memo.SetDefault(memoKey, response)
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListTransforms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"transforms": transforms.Names()})
}

// handleFREDSearch proxies FRED series search. Query: q, limit.
func (s *Server) handleFREDSearch(w http.ResponseWriter, r *http.Request) {
	if s.fred == nil {
		s.writeError(w, http.StatusNotImplemented, "FRED client not configured")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := s.fred.Search(r.Context(), query, limit)
	if err != nil {
		s.log.Warn().Err(err).Str("query", query).Msg("FRED search failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFREDSeriesInfo(w http.ResponseWriter, r *http.Request) {
	if s.fred == nil {
		s.writeError(w, http.StatusNotImplemented, "FRED client not configured")
		return
	}
	info, err := s.fred.SeriesInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleBEATables(w http.ResponseWriter, r *http.Request) {
	if s.bea == nil {
		s.writeError(w, http.StatusNotImplemented, "BEA client not configured")
		return
	}
	tables, err := s.bea.ListTables(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, tables)
}
