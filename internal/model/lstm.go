package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// lstmLayer is a single LSTM layer. Gate rows are stacked in the order
// input, forget, cell, output.
type lstmLayer struct {
	in, hidden int
	wx, wh, b  *param
}

func newLSTMLayer(name string, in, hidden int, rng *rand.Rand) *lstmLayer {
	l := &lstmLayer{
		in:     in,
		hidden: hidden,
		wx:     newParam(name+".wx", 4*hidden, in),
		wh:     newParam(name+".wh", 4*hidden, hidden),
		b:      newParam(name+".b", 4*hidden, 1),
	}
	l.wx.glorot(in, 4*hidden, rng)
	l.wh.glorot(hidden, 4*hidden, rng)
	for j := hidden; j < 2*hidden; j++ {
		l.b.w[j] = 1
	}
	return l
}

func (l *lstmLayer) params() []*param { return []*param{l.wx, l.wh, l.b} }

// lstmStep caches one timestep for backpropagation.
type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o      []float64
	tanhC           []float64
}

// forward runs xs through the layer and returns the hidden state of every step.
func (l *lstmLayer) forward(xs [][]float64) ([][]float64, []lstmStep) {
	H := l.hidden
	wx, wh := l.wx.weights(), l.wh.weights()
	bias := mat.NewVecDense(4*H, l.b.w)

	z := mat.NewVecDense(4*H, nil)
	rec := mat.NewVecDense(4*H, nil)
	zr := z.RawVector().Data

	h := make([]float64, H)
	c := make([]float64, H)
	hs := make([][]float64, len(xs))
	steps := make([]lstmStep, len(xs))

	for t, x := range xs {
		z.MulVec(wx, mat.NewVecDense(len(x), x))
		rec.MulVec(wh, mat.NewVecDense(H, h))
		z.AddVec(z, rec)
		z.AddVec(z, bias)

		s := lstmStep{
			x:     x,
			hPrev: h,
			cPrev: c,
			i:     make([]float64, H),
			f:     make([]float64, H),
			g:     make([]float64, H),
			o:     make([]float64, H),
			tanhC: make([]float64, H),
		}
		nh := make([]float64, H)
		nc := make([]float64, H)
		for j := 0; j < H; j++ {
			s.i[j] = sigmoid(zr[j])
			s.f[j] = sigmoid(zr[H+j])
			s.g[j] = math.Tanh(zr[2*H+j])
			s.o[j] = sigmoid(zr[3*H+j])
			nc[j] = s.f[j]*c[j] + s.i[j]*s.g[j]
			s.tanhC[j] = math.Tanh(nc[j])
			nh[j] = s.o[j] * s.tanhC[j]
		}

		steps[t] = s
		hs[t] = nh
		h, c = nh, nc
	}
	return hs, steps
}

// backward accumulates parameter gradients given the loss gradient with
// respect to every hidden state (nil entries are zero) and returns the
// gradient with respect to every input.
func (l *lstmLayer) backward(steps []lstmStep, dhs [][]float64) [][]float64 {
	H := l.hidden
	wx, wh := l.wx.weights(), l.wh.weights()
	gwx, gwh := l.wx.grad(), l.wh.grad()

	dz := mat.NewVecDense(4*H, nil)
	dzr := dz.RawVector().Data
	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	dh := mat.NewVecDense(H, dhNext)
	dxs := make([][]float64, len(steps))

	for t := len(steps) - 1; t >= 0; t-- {
		s := steps[t]
		for j := 0; j < H; j++ {
			d := dhNext[j]
			if dhs[t] != nil {
				d += dhs[t][j]
			}
			do := d * s.tanhC[j]
			dc := d*s.o[j]*(1-s.tanhC[j]*s.tanhC[j]) + dcNext[j]
			di := dc * s.g[j]
			dg := dc * s.i[j]
			df := dc * s.cPrev[j]

			dzr[j] = di * s.i[j] * (1 - s.i[j])
			dzr[H+j] = df * s.f[j] * (1 - s.f[j])
			dzr[2*H+j] = dg * (1 - s.g[j]*s.g[j])
			dzr[3*H+j] = do * s.o[j] * (1 - s.o[j])
			dcNext[j] = dc * s.f[j]
		}

		gwx.RankOne(gwx, 1, dz, mat.NewVecDense(len(s.x), s.x))
		gwh.RankOne(gwh, 1, dz, mat.NewVecDense(H, s.hPrev))
		for k, v := range dzr {
			l.b.g[k] += v
		}

		dx := mat.NewVecDense(l.in, nil)
		dx.MulVec(wx.T(), dz)
		dxs[t] = dx.RawVector().Data
		dh.MulVec(wh.T(), dz)
	}
	return dxs
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
