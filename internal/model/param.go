package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// param is one named weight tensor with its gradient and Adam moments.
type param struct {
	name       string
	rows, cols int
	w, g, m, v []float64
}

func newParam(name string, rows, cols int) *param {
	n := rows * cols
	return &param{
		name: name,
		rows: rows,
		cols: cols,
		w:    make([]float64, n),
		g:    make([]float64, n),
		m:    make([]float64, n),
		v:    make([]float64, n),
	}
}

func (p *param) weights() *mat.Dense { return mat.NewDense(p.rows, p.cols, p.w) }
func (p *param) grad() *mat.Dense    { return mat.NewDense(p.rows, p.cols, p.g) }

// glorot fills w from the Glorot uniform distribution. A nil rng leaves
// the weights at zero for loading.
func (p *param) glorot(fanIn, fanOut int, rng *rand.Rand) {
	if rng == nil {
		return
	}
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.w {
		p.w[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (p *param) zeroGrad() {
	for i := range p.g {
		p.g[i] = 0
	}
}

// adam implements the Adam update with optional global-norm clipping.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	clip  float64
	t     int
}

// step scales the accumulated gradients, applies one update and clears them.
func (a *adam) step(params []*param, scale float64) {
	a.t++

	var sq float64
	for _, p := range params {
		sq += floats.Dot(p.g, p.g)
	}
	norm := math.Sqrt(sq) * scale
	if a.clip > 0 && norm > a.clip {
		scale *= a.clip / norm
	}

	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for _, p := range params {
		for i, g := range p.g {
			g *= scale
			p.m[i] = a.beta1*p.m[i] + (1-a.beta1)*g
			p.v[i] = a.beta2*p.v[i] + (1-a.beta2)*g*g
			p.w[i] -= a.lr * (p.m[i] / c1) / (math.Sqrt(p.v[i]/c2) + a.eps)
		}
		p.zeroGrad()
	}
}
