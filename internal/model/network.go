package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// Architecture describes the layer stack of a classifier.
type Architecture struct {
	SequenceLength int     `json:"sequence_length"`
	InputDim       int     `json:"input_dim"`
	LSTMUnits      []int   `json:"lstm_units"`
	DenseUnits     []int   `json:"dense_units"`
	NumClasses     int     `json:"num_classes"`
	LSTMDropout    float64 `json:"lstm_dropout"`
	DenseDropout   float64 `json:"dense_dropout"`
}

// Validate checks that every size is positive and dropout rates are in [0,1).
func (a Architecture) Validate() error {
	if a.SequenceLength <= 0 || a.InputDim <= 0 || a.NumClasses <= 0 {
		return fmt.Errorf("architecture needs positive sequence length, input dim and classes, got %d, %d, %d",
			a.SequenceLength, a.InputDim, a.NumClasses)
	}
	if len(a.LSTMUnits) == 0 {
		return errors.New("architecture needs at least one LSTM layer")
	}
	for _, u := range append(append([]int(nil), a.LSTMUnits...), a.DenseUnits...) {
		if u <= 0 {
			return fmt.Errorf("layer width %d must be positive", u)
		}
	}
	if a.LSTMDropout < 0 || a.LSTMDropout >= 1 || a.DenseDropout < 0 || a.DenseDropout >= 1 {
		return errors.New("dropout rates must be in [0,1)")
	}
	return nil
}

// Network is the stacked LSTM classifier. Forward is safe for concurrent
// use; training is not.
type Network struct {
	arch  Architecture
	mean  []float64
	std   []float64
	lstm  []*lstmLayer
	dense []*denseLayer
}

// NewNetwork creates a network with an identity normalization and weights
// drawn from rng. A nil rng leaves the weights at zero.
func NewNetwork(arch Architecture, rng *rand.Rand) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	n := &Network{
		arch: arch,
		mean: make([]float64, arch.InputDim),
		std:  make([]float64, arch.InputDim),
	}
	for i := range n.std {
		n.std[i] = 1
	}

	in := arch.InputDim
	for k, u := range arch.LSTMUnits {
		n.lstm = append(n.lstm, newLSTMLayer(fmt.Sprintf("lstm%d", k), in, u, rng))
		in = u
	}
	for k, u := range arch.DenseUnits {
		n.dense = append(n.dense, newDenseLayer(fmt.Sprintf("dense%d", k), in, u, true, rng))
		in = u
	}
	n.dense = append(n.dense, newDenseLayer("output", in, arch.NumClasses, false, rng))
	return n, nil
}

// Architecture returns the layer description.
func (n *Network) Architecture() Architecture { return n.arch }

// ParamCount returns the number of trainable values.
func (n *Network) ParamCount() int {
	total := 0
	for _, p := range n.params() {
		total += len(p.w)
	}
	return total
}

func (n *Network) params() []*param {
	var ps []*param
	for _, l := range n.lstm {
		ps = append(ps, l.params()...)
	}
	for _, l := range n.dense {
		ps = append(ps, l.params()...)
	}
	return ps
}

// fitNormalization sets the per-feature mean and standard deviation from
// every frame of seqs. Constant features keep a unit scale.
func (n *Network) fitNormalization(seqs [][][]float64) {
	d := n.arch.InputDim
	mean := make([]float64, d)
	sq := make([]float64, d)
	count := 0
	for _, seq := range seqs {
		for _, frame := range seq {
			for j, v := range frame {
				mean[j] += v
				sq[j] += v * v
			}
			count++
		}
	}
	if count == 0 {
		return
	}
	for j := range mean {
		mean[j] /= float64(count)
		variance := sq[j]/float64(count) - mean[j]*mean[j]
		n.mean[j] = mean[j]
		n.std[j] = 1
		if variance > 1e-12 {
			n.std[j] = math.Sqrt(variance)
		}
	}
}

func (n *Network) normalize(seq [][]float64) [][]float64 {
	out := make([][]float64, len(seq))
	for t, frame := range seq {
		x := make([]float64, len(frame))
		for j, v := range frame {
			x[j] = (v - n.mean[j]) / n.std[j]
		}
		out[t] = x
	}
	return out
}

// checkInput reports shape errors instead of letting the kernels panic.
func (n *Network) checkInput(seq [][]float64) error {
	if len(seq) != n.arch.SequenceLength {
		return fmt.Errorf("sequence has %d frames, model expects %d", len(seq), n.arch.SequenceLength)
	}
	for t, frame := range seq {
		if len(frame) != n.arch.InputDim {
			return fmt.Errorf("frame %d has %d features, model expects %d", t, len(frame), n.arch.InputDim)
		}
		for _, v := range frame {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("frame %d holds a non-finite value", t)
			}
		}
	}
	return nil
}

// Forward returns the class probabilities for seq.
func (n *Network) Forward(seq [][]float64) ([]float64, error) {
	if err := n.checkInput(seq); err != nil {
		return nil, err
	}
	tr := n.run(seq, nil)
	return tr.probs, nil
}

// trace holds every intermediate needed by backward.
type trace struct {
	steps     [][]lstmStep
	lstmMasks [][][]float64
	lastMask  []float64
	denseIn   [][]float64
	denseOut  [][]float64
	denseMask []float64
	probs     []float64
}

// run computes a forward pass. Dropout is applied only when rng is non-nil.
func (n *Network) run(seq [][]float64, rng *rand.Rand) *trace {
	tr := &trace{}
	xs := n.normalize(seq)

	last := len(n.lstm) - 1
	var h []float64
	for k, l := range n.lstm {
		hs, steps := l.forward(xs)
		tr.steps = append(tr.steps, steps)
		if k < last {
			var masks [][]float64
			if rng != nil && n.arch.LSTMDropout > 0 {
				masks = make([][]float64, len(hs))
				for t := range hs {
					masks[t] = dropoutMask(len(hs[t]), n.arch.LSTMDropout, rng)
					hs[t] = applyMask(hs[t], masks[t])
				}
			}
			tr.lstmMasks = append(tr.lstmMasks, masks)
			xs = hs
			continue
		}
		h = hs[len(hs)-1]
		if rng != nil && n.arch.LSTMDropout > 0 {
			tr.lastMask = dropoutMask(len(h), n.arch.LSTMDropout, rng)
			h = applyMask(h, tr.lastMask)
		}
	}

	a := h
	for k, l := range n.dense {
		tr.denseIn = append(tr.denseIn, a)
		out := l.forward(a)
		tr.denseOut = append(tr.denseOut, out)
		a = out
		if k == 0 && l.relu && rng != nil && n.arch.DenseDropout > 0 {
			tr.denseMask = dropoutMask(len(out), n.arch.DenseDropout, rng)
			a = applyMask(out, tr.denseMask)
		}
	}

	tr.probs = softmax(a)
	return tr
}

// backward accumulates the cross-entropy gradients of one example.
func (n *Network) backward(tr *trace, label int) {
	da := append([]float64(nil), tr.probs...)
	da[label]--

	for k := len(n.dense) - 1; k >= 0; k-- {
		if k == 0 && tr.denseMask != nil {
			da = applyMask(da, tr.denseMask)
		}
		da = n.dense[k].backward(tr.denseIn[k], tr.denseOut[k], da)
	}

	if tr.lastMask != nil {
		da = applyMask(da, tr.lastMask)
	}

	last := len(n.lstm) - 1
	dhs := make([][]float64, len(tr.steps[last]))
	dhs[len(dhs)-1] = da
	for k := last; k >= 0; k-- {
		dxs := n.lstm[k].backward(tr.steps[k], dhs)
		if k == 0 {
			break
		}
		if masks := tr.lstmMasks[k-1]; masks != nil {
			for t := range dxs {
				dxs[t] = applyMask(dxs[t], masks[t])
			}
		}
		dhs = dxs
	}
}

// dropoutMask returns an inverted dropout mask: kept units are scaled by 1/(1-rate).
func dropoutMask(n int, rate float64, rng *rand.Rand) []float64 {
	mask := make([]float64, n)
	keep := 1 / (1 - rate)
	for i := range mask {
		if rng.Float64() >= rate {
			mask[i] = keep
		}
	}
	return mask
}

func applyMask(x, mask []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = x[i] * mask[i]
	}
	return out
}

func softmax(logits []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range logits {
		maxV = math.Max(maxV, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// crossEntropy is the clipped negative log likelihood of label.
func crossEntropy(probs []float64, label int) float64 {
	p := math.Min(math.Max(probs[label], 1e-7), 1-1e-7)
	return -math.Log(p)
}

// snapshot copies every weight tensor.
func (n *Network) snapshot() [][]float64 {
	ps := n.params()
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = append([]float64(nil), p.w...)
	}
	return out
}

func (n *Network) restore(snap [][]float64) {
	for i, p := range n.params() {
		copy(p.w, snap[i])
	}
}
