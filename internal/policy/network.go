package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// #region mode

// Mode selects training or evaluation behavior for a forward pass. It is an
// explicit argument rather than network state so a training run and an
// evaluation of the same parameters cannot cross-talk.
type Mode int

const (
	// ModeTrain enables dropout.
	ModeTrain Mode = iota
	// ModeEval makes the forward pass deterministic given the parameters.
	ModeEval
)

// #endregion mode

// #region errors

// ErrDimensionMismatch is returned when an input vector's width differs
// from the network's configured input dimension.
var ErrDimensionMismatch = errors.New("policy: input width does not match network input dimension")

// #endregion errors

// #region architecture

// Fixed architecture widths. Only the input dimension varies per dataset.
const (
	trunkWidth     = 256
	residualWidth  = 128
	attnHeads      = 8
	headWidth      = trunkWidth / attnHeads
	preGRUWidth    = 64
	gruHiddenWidth = 32
	dropoutRate    = 0.3
	leakySlope     = 0.2
)

// Network maps a feature vector to the probability of selecting it.
// The forward pass is: input projection with layer norm, a residual
// bottleneck block, an 8-head self-attention over the single-token
// representation, a GRU cell run for one step from a zero hidden state,
// dropout (training only), and a sigmoid head. The attention and GRU stages
// see exactly one position, so they act as learned nonlinear transforms
// rather than sequence models; the stated shapes are kept for parity with
// the reference architecture.
type Network struct {
	inputDim int
	params   map[string]*Mat
	rng      *rand.Rand

	// Per-head attention scores of the last forward pass, [heads][batch].
	// With a single token the softmax over positions is identically 1, so
	// the scores never influence the output; kept for inspection.
	LastAttnScores [][]float64
}

// NewNetwork builds a network for inputDim-wide features, drawing initial
// weights from rng.
func NewNetwork(inputDim int, rng *rand.Rand) (*Network, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("policy: input dimension must be positive, got %d", inputDim)
	}
	p := map[string]*Mat{
		// Stage 1: input projection + layer norm.
		"W_in": NewRandMat(trunkWidth, inputDim, rng),
		"b_in": NewMat(trunkWidth, 1),
		"g_in": onesColumn(trunkWidth),
		"s_in": NewMat(trunkWidth, 1),

		// Stage 2: residual bottleneck 256 -> 128 -> 256.
		"W_rd": NewRandMat(residualWidth, trunkWidth, rng),
		"b_rd": NewMat(residualWidth, 1),
		"g_rd": onesColumn(residualWidth),
		"s_rd": NewMat(residualWidth, 1),
		"W_ru": NewRandMat(trunkWidth, residualWidth, rng),
		"b_ru": NewMat(trunkWidth, 1),

		// Stage 3: self-attention projections, 256 -> 256 each.
		"W_q": NewRandMat(trunkWidth, trunkWidth, rng),
		"b_q": NewMat(trunkWidth, 1),
		"W_k": NewRandMat(trunkWidth, trunkWidth, rng),
		"b_k": NewMat(trunkWidth, 1),
		"W_v": NewRandMat(trunkWidth, trunkWidth, rng),
		"b_v": NewMat(trunkWidth, 1),
		"W_o": NewRandMat(trunkWidth, trunkWidth, rng),
		"b_o": NewMat(trunkWidth, 1),

		// Stage 4: 256 -> 64 projection feeding the GRU cell.
		"W_pg": NewRandMat(preGRUWidth, trunkWidth, rng),
		"b_pg": NewMat(preGRUWidth, 1),

		// GRU cell, input 64, hidden 32, run for a single step from h0 = 0.
		"W_ir": NewRandMat(gruHiddenWidth, preGRUWidth, rng),
		"b_ir": NewMat(gruHiddenWidth, 1),
		"W_hr": NewRandMat(gruHiddenWidth, gruHiddenWidth, rng),
		"b_hr": NewMat(gruHiddenWidth, 1),
		"W_iz": NewRandMat(gruHiddenWidth, preGRUWidth, rng),
		"b_iz": NewMat(gruHiddenWidth, 1),
		"W_hz": NewRandMat(gruHiddenWidth, gruHiddenWidth, rng),
		"b_hz": NewMat(gruHiddenWidth, 1),
		"W_inew": NewRandMat(gruHiddenWidth, preGRUWidth, rng),
		"b_inew": NewMat(gruHiddenWidth, 1),
		"W_hnew": NewRandMat(gruHiddenWidth, gruHiddenWidth, rng),
		"b_hnew": NewMat(gruHiddenWidth, 1),

		// Stage 6: sigmoid head.
		"W_out": NewRandMat(1, gruHiddenWidth, rng),
		"b_out": NewMat(1, 1),
	}
	return &Network{inputDim: inputDim, params: p, rng: rng}, nil
}

func onesColumn(n int) *Mat {
	m := NewMat(n, 1)
	for i := range m.W {
		m.W[i] = 1.0
	}
	return m
}

// InputDim returns the configured feature width.
func (net *Network) InputDim() int {
	return net.inputDim
}

// Params exposes the parameter map for the optimizer.
func (net *Network) Params() map[string]*Mat {
	return net.params
}

// ZeroGrads clears all parameter gradients.
func (net *Network) ZeroGrads() {
	for _, p := range net.params {
		p.ZeroGrads()
	}
}

// #endregion architecture

// #region forward

// Forward runs the network on x, a [inputDim x batch] matrix, and returns a
// [1 x batch] matrix of selection probabilities, each strictly in (0,1).
func (net *Network) Forward(g *Graph, x *Mat, mode Mode) (*Mat, error) {
	if x.N != net.inputDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, x.N, net.inputDim)
	}
	p := net.params

	// Stage 1: projection, layer norm, leaky ReLU.
	h := g.AddBias(g.Mul(p["W_in"], x), p["b_in"])
	h = g.LeakyRelu(g.LayerNorm(h, p["g_in"], p["s_in"]), leakySlope)

	// Stage 2: residual bottleneck with identity skip.
	r := g.AddBias(g.Mul(p["W_rd"], h), p["b_rd"])
	r = g.LeakyRelu(g.LayerNorm(r, p["g_rd"], p["s_rd"]), leakySlope)
	r = g.AddBias(g.Mul(p["W_ru"], r), p["b_ru"])
	h = g.Add(h, r)

	// Stage 3: single-token self-attention. The softmax over a length-1
	// sequence is identically 1, so the output reduces to the value path
	// through W_v and W_o; the query/key scores are recorded but inert.
	q := g.AddBias(g.Mul(p["W_q"], h), p["b_q"])
	k := g.AddBias(g.Mul(p["W_k"], h), p["b_k"])
	net.LastAttnScores = headScores(q, k)
	v := g.AddBias(g.Mul(p["W_v"], h), p["b_v"])
	h = g.AddBias(g.Mul(p["W_o"], v), p["b_o"])

	// Stage 4: 256 -> 64, then one GRU step from a zero hidden state. The
	// recurrent weights see only the zero vector, so they contribute their
	// biases; kept for parity with the reference cell.
	t := g.LeakyRelu(g.AddBias(g.Mul(p["W_pg"], h), p["b_pg"]), leakySlope)
	h0 := NewMat(gruHiddenWidth, x.D)
	reset := g.Sigmoid(g.AddBias(g.AddBias(g.Add(g.Mul(p["W_ir"], t), g.Mul(p["W_hr"], h0)), p["b_ir"]), p["b_hr"]))
	update := g.Sigmoid(g.AddBias(g.AddBias(g.Add(g.Mul(p["W_iz"], t), g.Mul(p["W_hz"], h0)), p["b_iz"]), p["b_hz"]))
	cand := g.Tanh(g.Add(
		g.AddBias(g.Mul(p["W_inew"], t), p["b_inew"]),
		g.Eltmul(reset, g.AddBias(g.Mul(p["W_hnew"], h0), p["b_hnew"])),
	))
	hidden := g.Add(g.Eltmul(g.OneMinus(update), cand), g.Eltmul(update, h0))

	// Stage 5: dropout only while training.
	if mode == ModeTrain {
		hidden = g.Dropout(hidden, dropoutRate, net.rng)
	}

	// Stage 6: sigmoid head.
	out := g.Sigmoid(g.AddBias(g.Mul(p["W_out"], hidden), p["b_out"]))
	return out, nil
}

// headScores computes the scaled dot-product score of each attention head
// for each batch column.
func headScores(q, k *Mat) [][]float64 {
	b := q.D
	scores := make([][]float64, attnHeads)
	scale := 1.0 / math.Sqrt(float64(headWidth))
	for h := 0; h < attnHeads; h++ {
		scores[h] = make([]float64, b)
		for j := 0; j < b; j++ {
			dot := 0.0
			for i := h * headWidth; i < (h+1)*headWidth; i++ {
				dot += q.W[i*b+j] * k.W[i*b+j]
			}
			scores[h][j] = dot * scale
		}
	}
	return scores
}

// #endregion forward

// #region inference

// Prob returns the selection probability for a single feature vector in
// evaluation mode, without recording gradients.
func (net *Network) Prob(x []float64) (float64, error) {
	out, err := net.Forward(NewGraph(false), NewColumn(x), ModeEval)
	if err != nil {
		return 0, err
	}
	return out.W[0], nil
}

// ProbBatch returns selection probabilities for a batch of feature vectors
// in evaluation mode.
func (net *Network) ProbBatch(rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	x := NewMat(len(rows[0]), len(rows))
	for j, row := range rows {
		if len(row) != len(rows[0]) {
			return nil, fmt.Errorf("%w: ragged batch", ErrDimensionMismatch)
		}
		for i, val := range row {
			x.W[i*len(rows)+j] = val
		}
	}
	out, err := net.Forward(NewGraph(false), x, ModeEval)
	if err != nil {
		return nil, err
	}
	probs := make([]float64, len(rows))
	copy(probs, out.W)
	return probs, nil
}

// #endregion inference
