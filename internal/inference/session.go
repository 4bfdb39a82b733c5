// Package inference drives the classifier over a live stream of detected
// faces: a rolling buffer of descriptors, one prediction per frame once the
// buffer is full, and confidence gating of the result.
package inference

import (
	"fmt"

	"github.com/ayusman/headnod/internal/detector"
	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/model"
	"github.com/ayusman/headnod/internal/sequence"
)

// State is the buffering state of a session.
type State int

const (
	// Buffering means fewer than sequence-length descriptors are buffered.
	Buffering State = iota
	// Ready means the buffer is full and every detected frame is classified.
	Ready
)

func (s State) String() string {
	switch s {
	case Buffering:
		return "BUFFERING"
	case Ready:
		return "READY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NeutralLabel is the class that never counts as a confirmed gesture.
const NeutralLabel = "NEUTRAL"

// Options configures a session.
type Options struct {
	// Threshold is the minimum winning probability for a decision.
	Threshold float64
	// SequenceLength must match the model when set. Zero uses the model's.
	SequenceLength int
	// ResetOnDecision clears the buffer after every non-neutral decision so
	// one gesture triggers once.
	ResetOnDecision bool
}

// DefaultOptions returns a threshold of model.DefaultThreshold with no reset.
func DefaultOptions() Options {
	return Options{Threshold: model.DefaultThreshold}
}

// Result is the outcome of one processed frame.
type Result struct {
	State    State `json:"state"`
	Buffered int   `json:"buffered"`
	// Detected is false for a frame without a face.
	Detected bool `json:"detected"`
	// Probabilities is set when a prediction ran, indexed by label.
	Probabilities []float64 `json:"probabilities,omitempty"`
	// Decision is set when the prediction passed the threshold.
	Decision *model.Decision `json:"decision,omitempty"`
}

// Stats counts the activity of a session.
type Stats struct {
	Frames      int            `json:"frames"`
	Detections  int            `json:"detections"`
	Predictions int            `json:"predictions"`
	Decisions   map[string]int `json:"decisions"`
	Resets      int            `json:"resets"`
}

// DetectionRate returns Detections / Frames, 0 before the first frame.
func (s Stats) DetectionRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.Detections) / float64(s.Frames)
}

// Session is one live inference run. It is not safe for concurrent use.
type Session struct {
	model     *model.Model
	extractor *features.Extractor
	opts      Options
	buf       *sequence.RollingBuffer
	state     State
	stats     Stats
	last      *model.Decision
}

// NewSession checks that the extractor and options fit m and returns a
// session in the Buffering state.
func NewSession(m *model.Model, extractor *features.Extractor, opts Options) (*Session, error) {
	meta := m.Metadata()
	length := opts.SequenceLength
	if length == 0 {
		length = meta.SequenceLength
	}
	if err := m.CheckCompatible(extractor.Layout(), length); err != nil {
		return nil, err
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v must be in [0,1]", opts.Threshold)
	}
	opts.SequenceLength = length

	return &Session{
		model:     m,
		extractor: extractor,
		opts:      opts,
		buf:       sequence.NewRollingBuffer(length),
		stats:     Stats{Decisions: make(map[string]int)},
	}, nil
}

// Process consumes one frame's detection. A nil face leaves the buffer and
// state unchanged.
func (s *Session) Process(face *detector.FaceLandmarks) (Result, error) {
	s.stats.Frames++

	d := s.extractor.Extract(face)
	if d == nil {
		return Result{State: s.state, Buffered: s.buf.Len()}, nil
	}
	s.stats.Detections++

	s.buf.Push(d)
	if s.buf.Full() {
		s.state = Ready
	}
	res := Result{State: s.state, Buffered: s.buf.Len(), Detected: true}
	if s.state != Ready {
		return res, nil
	}

	probs, err := s.model.Predict(s.buf.Snapshot())
	if err != nil {
		return res, fmt.Errorf("predict: %w", err)
	}
	s.stats.Predictions++
	res.Probabilities = probs

	if dec, ok := s.model.Decide(probs, s.opts.Threshold); ok {
		res.Decision = &dec
		s.last = &dec
		s.stats.Decisions[dec.Label]++
		if s.opts.ResetOnDecision && dec.Label != NeutralLabel {
			s.reset()
			res.State = s.state
			res.Buffered = 0
		}
	}
	return res, nil
}

// Reset clears the buffer and returns to Buffering.
func (s *Session) Reset() {
	s.stats.Resets++
	s.reset()
}

func (s *Session) reset() {
	s.buf.Reset()
	s.state = Buffering
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Buffered returns the number of buffered descriptors.
func (s *Session) Buffered() int { return s.buf.Len() }

// SequenceLength returns the buffer capacity.
func (s *Session) SequenceLength() int { return s.opts.SequenceLength }

// Threshold returns the decision threshold.
func (s *Session) Threshold() float64 { return s.opts.Threshold }

// LastDecision returns the most recent decision, or nil.
func (s *Session) LastDecision() *model.Decision { return s.last }

// Model returns the session's classifier.
func (s *Session) Model() *model.Model { return s.model }

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	out := s.stats
	out.Decisions = make(map[string]int, len(s.stats.Decisions))
	for k, v := range s.stats.Decisions {
		out.Decisions[k] = v
	}
	return out
}
