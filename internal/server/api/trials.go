package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/headnod/internal/store"
)

// TrialsHandler serves recorded accuracy trials.
type TrialsHandler struct {
	store *store.Store
}

// NewTrialsHandler creates a TrialsHandler.
func NewTrialsHandler(s *store.Store) *TrialsHandler {
	return &TrialsHandler{store: s}
}

type listTrialsResponse struct {
	Trials []*store.Trial `json:"trials"`
}

type summaryResponse struct {
	Total    int                   `json:"total"`
	Correct  int                   `json:"correct"`
	Accuracy float64               `json:"accuracy"`
	Gestures []*store.TrialSummary `json:"gestures"`
}

// ServeHTTP handles GET /api/trials and GET /api/trials/summary.
func (h *TrialsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/api/trials"), "/") {
	case "":
		h.list(w)
	case "summary":
		h.summary(w)
	default:
		http.NotFound(w, r)
	}
}

func (h *TrialsHandler) list(w http.ResponseWriter) {
	trials, err := h.store.Trials().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list trials")
		return
	}
	if trials == nil {
		trials = []*store.Trial{}
	}
	writeJSON(w, http.StatusOK, listTrialsResponse{Trials: trials})
}

func (h *TrialsHandler) summary(w http.ResponseWriter) {
	summaries, err := h.store.Trials().Summary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize trials")
		return
	}

	resp := summaryResponse{Gestures: summaries}
	if resp.Gestures == nil {
		resp.Gestures = []*store.TrialSummary{}
	}
	for _, s := range summaries {
		resp.Total += s.Total
		resp.Correct += s.Correct
	}
	if resp.Total > 0 {
		resp.Accuracy = float64(resp.Correct) / float64(resp.Total)
	}
	writeJSON(w, http.StatusOK, resp)
}
