package api

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/sequence"
)

// maxPredictBody bounds the request body of a prediction.
const maxPredictBody = 1 << 20

// PredictHandler classifies a client-supplied descriptor sequence.
type PredictHandler struct {
	model     *model.Model
	threshold float64
	log       logrus.FieldLogger
}

// NewPredictHandler creates a PredictHandler. m may be nil, in which case
// every request is answered with 503.
func NewPredictHandler(m *model.Model, threshold float64, log logrus.FieldLogger) *PredictHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PredictHandler{model: m, threshold: threshold, log: log}
}

type predictRequest struct {
	Sequence [][]float64 `json:"sequence"`
}

type predictResponse struct {
	Success       bool               `json:"success"`
	Gesture       string             `json:"gesture"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	// Decided reports whether the confidence passed the server threshold.
	Decided bool `json:"decided"`
}

// ServeHTTP handles POST /api/predict.
func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.model == nil {
		writeError(w, http.StatusServiceUnavailable, "gesture recognition model is not loaded")
		return
	}

	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	meta := h.model.Metadata()
	if len(req.Sequence) != meta.SequenceLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid sequence length: expected %d, got %d", meta.SequenceLength, len(req.Sequence)))
		return
	}
	for i, frame := range req.Sequence {
		if len(frame) != meta.DescriptorDim {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid feature dimensions: expected %d features per frame, frame %d has %d", meta.DescriptorDim, i, len(frame)))
			return
		}
	}

	probs, err := h.model.Predict(sequence.Sequence(req.Sequence))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	idx, conf, ok := model.Gate(probs, h.threshold)
	resp := predictResponse{
		Success:       true,
		Gesture:       meta.Labels.Name(idx),
		Confidence:    conf,
		Probabilities: h.model.Probabilities(probs),
		Decided:       ok,
	}
	h.log.WithFields(logrus.Fields{
		"gesture":    resp.Gesture,
		"confidence": fmt.Sprintf("%.3f", conf),
	}).Debug("prediction served")

	writeJSON(w, http.StatusOK, resp)
}
