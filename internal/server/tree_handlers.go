package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/macroecon/internal/catalog"
	"github.com/aristath/macroecon/internal/series"
)

// maxTreeBody bounds uploaded tree documents.
const maxTreeBody = 4 << 20

var (
	errTreeNotFound = errors.New("tree not found")
	errNodeNotFound = errors.New("node not found")
)

// TreeListResponse lists built-in and saved trees.
type TreeListResponse struct {
	Builtin []string           `json:"builtin"`
	Saved   []catalog.TreeInfo `json:"saved"`
}

// NodeResponse describes one node with its position in the tree.
type NodeResponse struct {
	Tree   string       `json:"tree"`
	Node   *series.Node `json:"node"`
	Path   []string     `json:"path"`
	Leaves []string     `json:"leaves"`
}

// loadTree builds a built-in tree or loads a saved one. Built-in names win.
func (s *Server) loadTree(name string) (*series.Node, error) {
	if s.registry != nil && s.registry.Has(name) {
		return s.registry.Build(name)
	}
	if s.catalog != nil {
		root, err := s.catalog.LoadTree(name)
		if err != nil {
			return nil, err
		}
		if root != nil {
			return root, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errTreeNotFound, name)
}

// loadNode resolves {tree} and {code} from the route.
func (s *Server) loadNode(r *http.Request) (string, *series.Node, error) {
	name := chi.URLParam(r, "tree")
	root, err := s.loadTree(name)
	if err != nil {
		return name, nil, err
	}
	code := chi.URLParam(r, "code")
	node := root.Find(code)
	if node == nil {
		return name, nil, fmt.Errorf("%w: %s in %s", errNodeNotFound, code, name)
	}
	return name, node, nil
}

// writeLookupError maps tree and node lookup failures to status codes.
func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, errTreeNotFound) || errors.Is(err, errNodeNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error().Err(err).Msg("Failed to load tree")
	s.writeError(w, http.StatusInternalServerError, "failed to load tree")
}

func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	response := TreeListResponse{Builtin: []string{}, Saved: []catalog.TreeInfo{}}
	if s.registry != nil {
		response.Builtin = s.registry.Names()
	}
	if s.catalog != nil {
		saved, err := s.catalog.ListTrees()
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to list saved trees")
			s.writeError(w, http.StatusInternalServerError, "failed to list saved trees")
			return
		}
		if saved != nil {
			response.Saved = saved
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleGetTree returns the whole tree as JSON, or MessagePack with ?format=msgpack.
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	root, err := s.loadTree(chi.URLParam(r, "tree"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		s.writeJSON(w, http.StatusOK, root)
	case "msgpack":
		data, err := msgpack.Marshal(root.ToMap())
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to encode tree as msgpack")
			s.writeError(w, http.StatusInternalServerError, "failed to encode tree")
			return
		}
		w.Header().Set("Content-Type", "application/msgpack")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			s.log.Error().Err(err).Msg("Failed to write msgpack response")
		}
	default:
		s.writeError(w, http.StatusBadRequest, "format must be json or msgpack")
	}
}

func (s *Server) handleTreeText(w http.ResponseWriter, r *http.Request) {
	root, err := s.loadTree(chi.URLParam(r, "tree"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, root.PrintTree()+"\n"); err != nil {
		s.log.Error().Err(err).Msg("Failed to write tree text")
	}
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	name, node, err := s.loadNode(r)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}

	leaves := node.Leaves()
	codes := make([]string, len(leaves))
	for i, leaf := range leaves {
		codes[i] = leaf.Code
	}
	s.writeJSON(w, http.StatusOK, NodeResponse{
		Tree:   name,
		Node:   node,
		Path:   node.Path(),
		Leaves: codes,
	})
}

// handleSaveTree stores a tree document in the catalog under {tree}.
func (s *Server) handleSaveTree(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tree")
	if s.catalog == nil {
		s.writeError(w, http.StatusNotImplemented, "catalog not configured")
		return
	}
	if s.registry != nil && s.registry.Has(name) {
		s.writeError(w, http.StatusConflict, "cannot overwrite built-in tree "+name)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTreeBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, "tree document too large")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	root, err := series.ParseJSON(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := root.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.catalog.SaveTree(name, root); err != nil {
		s.log.Error().Err(err).Str("tree", name).Msg("Failed to save tree")
		s.writeError(w, http.StatusInternalServerError, "failed to save tree")
		return
	}
	s.memo.Flush()

	s.log.Info().Str("tree", name).Int("nodes", root.Size()).Msg("Tree saved")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":       name,
		"root_code":  root.Code,
		"node_count": root.Size(),
	})
}

func (s *Server) handleDeleteTree(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "tree")
	if s.catalog == nil {
		s.writeError(w, http.StatusNotImplemented, "catalog not configured")
		return
	}
	if s.registry != nil && s.registry.Has(name) {
		s.writeError(w, http.StatusConflict, "cannot delete built-in tree "+name)
		return
	}

	err := s.catalog.DeleteTree(name)
	if errors.Is(err, catalog.ErrTreeNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("tree", name).Msg("Failed to delete tree")
		s.writeError(w, http.StatusInternalServerError, "failed to delete tree")
		return
	}
	s.memo.Flush()
	w.WriteHeader(http.StatusNoContent)
}
