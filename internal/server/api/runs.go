package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/headnod/internal/store"
)

// defaultRunLimit is the number of runs listed without a limit parameter.
const defaultRunLimit = 20

// RunsHandler serves the training run registry.
type RunsHandler struct {
	store *store.Store
}

// NewRunsHandler creates a RunsHandler.
func NewRunsHandler(s *store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

type listRunsResponse struct {
	Runs []*store.Run `json:"runs"`
}

// ServeHTTP handles GET /api/runs and GET /api/runs/{id}.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/runs"), "/")
	if id != "" {
		run, err := h.store.Runs().GetByID(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get run")
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	limit, ok := queryInt(r, "limit", defaultRunLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	runs, err := h.store.Runs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}
