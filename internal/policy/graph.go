// Package policy implements the action-probability network and the small
// reverse-mode autodiff engine it trains with. Matrices are column-major in
// the batch sense: a [N x B] Mat holds B column vectors of N features, so a
// parameter matrix [N x K] times an input [K x B] yields activations for the
// whole batch in one Mul.
package policy

import (
	"fmt"
	"math"
	"math/rand"
)

// #region mat

// Mat is a dense matrix carrying both weights and their gradients.
type Mat struct {
	N  int // rows
	D  int // columns (batch size for activations, 1 for biases)
	W  []float64
	Dw []float64
}

// NewMat creates a zeroed N x D matrix.
func NewMat(n, d int) *Mat {
	return &Mat{N: n, D: d, W: make([]float64, n*d), Dw: make([]float64, n*d)}
}

// NewRandMat creates an N x D matrix with Gaussian entries scaled by
// sqrt(2/fanIn), the init used throughout for leaky-ReLU stacks.
func NewRandMat(n, d int, rng *rand.Rand) *Mat {
	m := NewMat(n, d)
	std := math.Sqrt(2.0 / float64(d))
	for i := range m.W {
		m.W[i] = rng.NormFloat64() * std
	}
	return m
}

// NewColumn wraps a feature vector as an [N x 1] matrix.
func NewColumn(v []float64) *Mat {
	m := NewMat(len(v), 1)
	copy(m.W, v)
	return m
}

// ZeroGrads clears the gradient buffer.
func (m *Mat) ZeroGrads() {
	for i := range m.Dw {
		m.Dw[i] = 0
	}
}

// #endregion mat

// #region graph

// Graph records the backward closures of a forward pass. Build the pass with
// the Graph's ops, seed the output gradients, then call Backward to
// accumulate parameter gradients in reverse order.
type Graph struct {
	NeedsBackprop bool
	backprop      []func()
}

// NewGraph creates a graph; pass needsBackprop=false for inference-only
// forward passes to skip closure allocation.
func NewGraph(needsBackprop bool) *Graph {
	return &Graph{NeedsBackprop: needsBackprop}
}

// Backward runs the recorded closures in reverse order.
func (g *Graph) Backward() {
	for i := len(g.backprop) - 1; i >= 0; i-- {
		g.backprop[i]()
	}
}

func (g *Graph) add(f func()) {
	if g.NeedsBackprop {
		g.backprop = append(g.backprop, f)
	}
}

// #endregion graph

// #region linear-ops

// Mul computes m1 * m2, [N x K] x [K x B] -> [N x B].
func (g *Graph) Mul(m1, m2 *Mat) *Mat {
	if m1.D != m2.N {
		panic(fmt.Sprintf("policy: Mul dims %dx%d x %dx%d", m1.N, m1.D, m2.N, m2.D))
	}
	n, k, b := m1.N, m1.D, m2.D
	out := NewMat(n, b)
	for i := 0; i < n; i++ {
		for j := 0; j < b; j++ {
			dot := 0.0
			for l := 0; l < k; l++ {
				dot += m1.W[i*k+l] * m2.W[l*b+j]
			}
			out.W[i*b+j] = dot
		}
	}
	g.add(func() {
		for i := 0; i < n; i++ {
			for j := 0; j < b; j++ {
				grad := out.Dw[i*b+j]
				if grad == 0 {
					continue
				}
				for l := 0; l < k; l++ {
					m1.Dw[i*k+l] += m2.W[l*b+j] * grad
					m2.Dw[l*b+j] += m1.W[i*k+l] * grad
				}
			}
		}
	})
	return out
}

// Add computes m1 + m2 element-wise; shapes must match.
func (g *Graph) Add(m1, m2 *Mat) *Mat {
	if m1.N != m2.N || m1.D != m2.D {
		panic(fmt.Sprintf("policy: Add dims %dx%d + %dx%d", m1.N, m1.D, m2.N, m2.D))
	}
	out := NewMat(m1.N, m1.D)
	for i := range m1.W {
		out.W[i] = m1.W[i] + m2.W[i]
	}
	g.add(func() {
		for i := range m1.W {
			m1.Dw[i] += out.Dw[i]
			m2.Dw[i] += out.Dw[i]
		}
	})
	return out
}

// AddBias adds a bias column [N x 1] to every column of m [N x B].
func (g *Graph) AddBias(m, bias *Mat) *Mat {
	if m.N != bias.N || bias.D != 1 {
		panic(fmt.Sprintf("policy: AddBias dims %dx%d + %dx%d", m.N, m.D, bias.N, bias.D))
	}
	n, b := m.N, m.D
	out := NewMat(n, b)
	for i := 0; i < n; i++ {
		for j := 0; j < b; j++ {
			out.W[i*b+j] = m.W[i*b+j] + bias.W[i]
		}
	}
	g.add(func() {
		for i := 0; i < n; i++ {
			for j := 0; j < b; j++ {
				grad := out.Dw[i*b+j]
				m.Dw[i*b+j] += grad
				bias.Dw[i] += grad
			}
		}
	})
	return out
}

// Eltmul computes the element-wise product; shapes must match.
func (g *Graph) Eltmul(m1, m2 *Mat) *Mat {
	if m1.N != m2.N || m1.D != m2.D {
		panic(fmt.Sprintf("policy: Eltmul dims %dx%d * %dx%d", m1.N, m1.D, m2.N, m2.D))
	}
	out := NewMat(m1.N, m1.D)
	for i := range m1.W {
		out.W[i] = m1.W[i] * m2.W[i]
	}
	g.add(func() {
		for i := range m1.W {
			m1.Dw[i] += m2.W[i] * out.Dw[i]
			m2.Dw[i] += m1.W[i] * out.Dw[i]
		}
	})
	return out
}

// OneMinus computes 1 - m element-wise.
func (g *Graph) OneMinus(m *Mat) *Mat {
	out := NewMat(m.N, m.D)
	for i := range m.W {
		out.W[i] = 1.0 - m.W[i]
	}
	g.add(func() {
		for i := range m.W {
			m.Dw[i] -= out.Dw[i]
		}
	})
	return out
}

// #endregion linear-ops

// #region activations

func (g *Graph) apply(m *Mat, fn func(float64) float64, deriv func(x, y float64) float64) *Mat {
	out := NewMat(m.N, m.D)
	for i := range m.W {
		out.W[i] = fn(m.W[i])
	}
	g.add(func() {
		for i := range m.W {
			m.Dw[i] += deriv(m.W[i], out.W[i]) * out.Dw[i]
		}
	})
	return out
}

// Sigmoid applies 1/(1+e^-x) element-wise.
func (g *Graph) Sigmoid(m *Mat) *Mat {
	return g.apply(m,
		func(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) },
		func(x, y float64) float64 { return y * (1.0 - y) })
}

// Tanh applies tanh element-wise.
func (g *Graph) Tanh(m *Mat) *Mat {
	return g.apply(m, math.Tanh,
		func(x, y float64) float64 { return 1.0 - y*y })
}

// LeakyRelu applies max(x, slope*x) element-wise.
func (g *Graph) LeakyRelu(m *Mat, slope float64) *Mat {
	return g.apply(m,
		func(x float64) float64 {
			if x > 0 {
				return x
			}
			return slope * x
		},
		func(x, y float64) float64 {
			if x > 0 {
				return 1.0
			}
			return slope
		})
}

// #endregion activations

// #region layer-norm

const layerNormEps = 1e-5

// LayerNorm normalizes each column of m to zero mean and unit variance over
// its N channels, then applies the learned gain and shift columns.
func (g *Graph) LayerNorm(m, gain, shift *Mat) *Mat {
	if gain.N != m.N || gain.D != 1 || shift.N != m.N || shift.D != 1 {
		panic(fmt.Sprintf("policy: LayerNorm affine dims for %dx%d input", m.N, m.D))
	}
	n, b := m.N, m.D
	out := NewMat(n, b)
	norm := NewMat(n, b) // cached normalized values for backward
	invStd := make([]float64, b)

	for j := 0; j < b; j++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += m.W[i*b+j]
		}
		mean /= float64(n)
		variance := 0.0
		for i := 0; i < n; i++ {
			d := m.W[i*b+j] - mean
			variance += d * d
		}
		variance /= float64(n)
		invStd[j] = 1.0 / math.Sqrt(variance+layerNormEps)
		for i := 0; i < n; i++ {
			x := (m.W[i*b+j] - mean) * invStd[j]
			norm.W[i*b+j] = x
			out.W[i*b+j] = x*gain.W[i] + shift.W[i]
		}
	}

	g.add(func() {
		for j := 0; j < b; j++ {
			// dL/dxhat_i = dout_i * gain_i; the input gradient is
			// (1/std) * (dxhat_i - mean(dxhat) - xhat_i * mean(dxhat .* xhat)).
			meanD := 0.0
			meanDX := 0.0
			for i := 0; i < n; i++ {
				grad := out.Dw[i*b+j]
				gain.Dw[i] += grad * norm.W[i*b+j]
				shift.Dw[i] += grad
				dxh := grad * gain.W[i]
				meanD += dxh
				meanDX += dxh * norm.W[i*b+j]
			}
			meanD /= float64(n)
			meanDX /= float64(n)
			for i := 0; i < n; i++ {
				dxh := out.Dw[i*b+j] * gain.W[i]
				m.Dw[i*b+j] += invStd[j] * (dxh - meanD - norm.W[i*b+j]*meanDX)
			}
		}
	})
	return out
}

// #endregion layer-norm

// #region dropout

// Dropout zeroes each element with probability rate and scales survivors by
// 1/(1-rate) so activations keep their expectation. Callers apply it only in
// training mode; evaluation passes skip the op entirely.
func (g *Graph) Dropout(m *Mat, rate float64, rng *rand.Rand) *Mat {
	out := NewMat(m.N, m.D)
	mask := make([]float64, len(m.W))
	scale := 1.0 / (1.0 - rate)
	for i := range m.W {
		if rng.Float64() < rate {
			mask[i] = 0
		} else {
			mask[i] = scale
		}
		out.W[i] = m.W[i] * mask[i]
	}
	g.add(func() {
		for i := range m.W {
			m.Dw[i] += mask[i] * out.Dw[i]
		}
	})
	return out
}

// #endregion dropout
