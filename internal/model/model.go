// Package model implements the temporal gesture classifier: a stacked LSTM
// with a dense softmax head, its training protocol, evaluation metrics and
// on-disk artifact.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/headnod/internal/dataset"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/sequence"
)

// DefaultThreshold is the minimum winning probability for a decision.
const DefaultThreshold = 0.5

var (
	// ErrArtifactMissing is returned when the weights or metadata file is absent.
	ErrArtifactMissing = errors.New("model artifact missing")
	// ErrSchemaMismatch is returned when a model does not fit its inputs.
	ErrSchemaMismatch = errors.New("model schema mismatch")
)

// Metadata describes a trained model. It is persisted as model_info.json.
type Metadata struct {
	RunID           string         `json:"run_id"`
	Layout          string         `json:"layout"`
	SequenceLength  int            `json:"sequence_length"`
	DescriptorDim   int            `json:"descriptor_dim"`
	InputShape      [2]int         `json:"input_shape"`
	NumClasses      int            `json:"num_classes"`
	Labels          dataset.Labels `json:"label_map"`
	TrainedAt       time.Time      `json:"training_date"`
	TrainAccuracy   float64        `json:"train_accuracy"`
	ValAccuracy     float64        `json:"val_accuracy"`
	TrainLoss       float64        `json:"train_loss"`
	ValLoss         float64        `json:"val_loss"`
	BestEpoch       int            `json:"best_epoch"`
	EpochsTrained   int            `json:"epochs_trained"`
	MaxEpochs       int            `json:"total_epochs"`
	BatchSize       int            `json:"batch_size"`
	TrainingSeconds float64        `json:"training_time_seconds"`
	TotalParameters int            `json:"total_parameters"`
	WeightsSHA256   string         `json:"weights_sha256"`
}

// Model is a trained classifier with its metadata. It is immutable and safe
// for concurrent Predict calls.
type Model struct {
	net  *Network
	meta Metadata
}

// New pairs a network with metadata, filling the shape fields from the
// network and checking that the rest agrees with it.
func New(net *Network, meta Metadata) (*Model, error) {
	arch := net.Architecture()
	meta.InputShape = [2]int{arch.SequenceLength, arch.InputDim}
	meta.TotalParameters = net.ParamCount()
	if meta.SequenceLength == 0 {
		meta.SequenceLength = arch.SequenceLength
	}
	if meta.DescriptorDim == 0 {
		meta.DescriptorDim = arch.InputDim
	}
	if meta.NumClasses == 0 {
		meta.NumClasses = arch.NumClasses
	}
	m := &Model{net: net, meta: meta}
	if err := m.checkMetadata(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) checkMetadata() error {
	arch := m.net.Architecture()
	switch {
	case m.meta.SequenceLength != arch.SequenceLength:
		return fmt.Errorf("%w: metadata sequence length %d, weights %d", ErrSchemaMismatch, m.meta.SequenceLength, arch.SequenceLength)
	case m.meta.DescriptorDim != arch.InputDim:
		return fmt.Errorf("%w: metadata descriptor dim %d, weights %d", ErrSchemaMismatch, m.meta.DescriptorDim, arch.InputDim)
	case m.meta.NumClasses != arch.NumClasses || len(m.meta.Labels) != arch.NumClasses:
		return fmt.Errorf("%w: metadata declares %d classes with %d labels, weights have %d",
			ErrSchemaMismatch, m.meta.NumClasses, len(m.meta.Labels), arch.NumClasses)
	}
	if err := m.meta.Labels.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return nil
}

// Metadata returns a copy of the model metadata.
func (m *Model) Metadata() Metadata {
	meta := m.meta
	meta.Labels = make(dataset.Labels, len(m.meta.Labels))
	for k, v := range m.meta.Labels {
		meta.Labels[k] = v
	}
	return meta
}

// Network exposes the underlying network.
func (m *Model) Network() *Network { return m.net }

// CheckCompatible verifies that sequences produced by layout with the given
// length can be fed to the model.
func (m *Model) CheckCompatible(layout features.Layout, sequenceLength int) error {
	if err := layout.CheckCompatible(m.meta.Layout, m.meta.DescriptorDim); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if sequenceLength != m.meta.SequenceLength {
		return fmt.Errorf("%w: sequence length %d, model expects %d", ErrSchemaMismatch, sequenceLength, m.meta.SequenceLength)
	}
	return nil
}

// CheckDataset verifies that ds was extracted under the layout, sequence
// length and labels the model was trained with.
func (m *Model) CheckDataset(layout features.Layout, ds *dataset.Dataset) error {
	if err := m.CheckCompatible(layout, ds.SequenceLength); err != nil {
		return err
	}
	if ds.DescriptorDim != m.meta.DescriptorDim {
		return fmt.Errorf("%w: dataset descriptor dim %d, model expects %d", ErrSchemaMismatch, ds.DescriptorDim, m.meta.DescriptorDim)
	}
	if !ds.Labels.Equal(m.meta.Labels) {
		return fmt.Errorf("%w: dataset labels differ from the model's", ErrSchemaMismatch)
	}
	return nil
}

// Predict returns the class probabilities of seq, indexed by label.
func (m *Model) Predict(seq sequence.Sequence) ([]float64, error) {
	return m.net.Forward(seq)
}

// Decision is a gated classification.
type Decision struct {
	Index      int     `json:"index"`
	Label      string  `json:"gesture"`
	Confidence float64 `json:"confidence"`
}

// Gate returns the winning class of probs when its probability is at least
// threshold. Below threshold there is no decision. Ties resolve to the
// lowest index.
func Gate(probs []float64, threshold float64) (int, float64, bool) {
	if len(probs) == 0 {
		return 0, 0, false
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best, probs[best], probs[best] >= threshold
}

// Decide gates probs and names the winning class.
func (m *Model) Decide(probs []float64, threshold float64) (Decision, bool) {
	idx, conf, ok := Gate(probs, threshold)
	if !ok {
		return Decision{}, false
	}
	return Decision{Index: idx, Label: m.meta.Labels.Name(idx), Confidence: conf}, true
}

// Probabilities maps label names to probabilities.
func (m *Model) Probabilities(probs []float64) map[string]float64 {
	out := make(map[string]float64, len(probs))
	for i, p := range probs {
		out[m.meta.Labels.Name(i)] = p
	}
	return out
}
