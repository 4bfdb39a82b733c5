package model

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// denseLayer is a fully connected layer with an optional ReLU.
type denseLayer struct {
	in, out int
	relu    bool
	w, b    *param
}

func newDenseLayer(name string, in, out int, relu bool, rng *rand.Rand) *denseLayer {
	l := &denseLayer{
		in:   in,
		out:  out,
		relu: relu,
		w:    newParam(name+".w", out, in),
		b:    newParam(name+".b", out, 1),
	}
	l.w.glorot(in, out, rng)
	return l
}

func (l *denseLayer) params() []*param { return []*param{l.w, l.b} }

func (l *denseLayer) forward(x []float64) []float64 {
	y := mat.NewVecDense(l.out, nil)
	y.MulVec(l.w.weights(), mat.NewVecDense(len(x), x))
	y.AddVec(y, mat.NewVecDense(l.out, l.b.w))
	out := y.RawVector().Data
	if l.relu {
		for i, v := range out {
			if v < 0 {
				out[i] = 0
			}
		}
	}
	return out
}

// backward takes the layer input, its activated output and the gradient
// with respect to that output. dy is modified in place.
func (l *denseLayer) backward(x, y, dy []float64) []float64 {
	if l.relu {
		for i, v := range y {
			if v <= 0 {
				dy[i] = 0
			}
		}
	}
	d := mat.NewVecDense(l.out, dy)
	gw := l.w.grad()
	gw.RankOne(gw, 1, d, mat.NewVecDense(len(x), x))
	for i, v := range dy {
		l.b.g[i] += v
	}

	dx := mat.NewVecDense(l.in, nil)
	dx.MulVec(l.w.weights().T(), d)
	return dx.RawVector().Data
}
