// Package sequence turns a stream of per-frame descriptors into fixed-length
// sequences, either as overlapping training windows or as a rolling buffer
// for live inference.
package sequence

import (
	"errors"
	"fmt"
)

// Default window geometry.
const (
	DefaultLength = 15
	DefaultStride = 10
)

// Sequence is an ordered list of descriptors, oldest first.
type Sequence [][]float64

// Len returns the number of descriptors.
func (s Sequence) Len() int {
	return len(s)
}

// Clone returns a deep copy.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	for i, d := range s {
		out[i] = append([]float64(nil), d...)
	}
	return out
}

// Validate checks that s has exactly length descriptors of size dim.
func (s Sequence) Validate(length, dim int) error {
	if len(s) != length {
		return fmt.Errorf("sequence has %d frames, expected %d", len(s), length)
	}
	for i, d := range s {
		if len(d) != dim {
			return fmt.Errorf("frame %d has %d features, expected %d", i, len(d), dim)
		}
	}
	return nil
}

// Windower accumulates one video's descriptors and emits overlapping
// sequences. It is not safe for concurrent use; use one per video.
type Windower struct {
	length  int
	stride  int
	pending [][]float64
	last    []float64
	seen    int
	emitted int
}

// NewWindower returns a windower emitting sequences of length descriptors,
// advancing by stride. stride must satisfy 0 < stride < length.
func NewWindower(length, stride int) (*Windower, error) {
	if length <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", length)
	}
	if stride <= 0 || stride >= length {
		return nil, fmt.Errorf("stride must be in (0, %d), got %d", length, stride)
	}
	return &Windower{
		length:  length,
		stride:  stride,
		pending: make([][]float64, 0, length),
	}, nil
}

// Push appends a descriptor. It returns a completed sequence when the window
// fills, or nil.
func (w *Windower) Push(d []float64) Sequence {
	if d == nil {
		return nil
	}

	w.pending = append(w.pending, d)
	w.last = d
	w.seen++

	if len(w.pending) < w.length {
		return nil
	}

	seq := Sequence(w.pending).Clone()
	w.emitted++

	// Slide forward by stride.
	w.pending = append(w.pending[:0], w.pending[w.stride:]...)

	return seq
}

// ErrTooShort is returned by Flush when the video had too few detected frames
// to emit any sequence.
var ErrTooShort = errors.New("not enough detected frames for a sequence")

// Flush ends the video. If no sequence was emitted and more than half a window
// was collected, the partial window is padded with its final descriptor and
// returned as a single sequence. It returns ErrTooShort when the video produced
// nothing at all, and nil, nil if sequences were already emitted.
func (w *Windower) Flush() (Sequence, error) {
	if w.emitted > 0 {
		return nil, nil
	}
	if len(w.pending) <= w.length/2 {
		return nil, ErrTooShort
	}

	seq := Sequence(w.pending).Clone()
	for len(seq) < w.length {
		seq = append(seq, append([]float64(nil), w.last...))
	}
	w.emitted++
	w.pending = w.pending[:0]

	return seq, nil
}

// Emitted returns the number of sequences produced so far.
func (w *Windower) Emitted() int {
	return w.emitted
}

// Pending returns the number of descriptors waiting for the next window.
func (w *Windower) Pending() int {
	return len(w.pending)
}

// Seen returns the number of descriptors pushed.
func (w *Windower) Seen() int {
	return w.seen
}
