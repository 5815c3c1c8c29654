package policy

import (
	"math"
	"math/rand"
	"testing"
)

// gradCheck compares analytic gradients of sum(forward()) against central
// finite differences for every entry of each parameter.
func gradCheck(t *testing.T, params []*Mat, forward func(g *Graph) *Mat) {
	t.Helper()
	const h = 1e-5
	const tol = 1e-4

	g := NewGraph(true)
	out := forward(g)
	for i := range out.Dw {
		out.Dw[i] = 1.0
	}
	g.Backward()

	loss := func() float64 {
		o := forward(NewGraph(false))
		sum := 0.0
		for _, w := range o.W {
			sum += w
		}
		return sum
	}

	for pi, p := range params {
		for i := range p.W {
			orig := p.W[i]
			p.W[i] = orig + h
			plus := loss()
			p.W[i] = orig - h
			minus := loss()
			p.W[i] = orig
			numeric := (plus - minus) / (2 * h)
			analytic := p.Dw[i]
			if math.Abs(numeric-analytic) > tol*(1+math.Abs(numeric)) {
				t.Errorf("param %d entry %d: analytic %.8f, numeric %.8f", pi, i, analytic, numeric)
			}
		}
	}
}

func TestLinearSigmoidGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	W := NewRandMat(3, 4, rng)
	b := NewRandMat(3, 1, rng)
	x := NewRandMat(4, 2, rng)

	gradCheck(t, []*Mat{W, b, x}, func(g *Graph) *Mat {
		return g.Sigmoid(g.AddBias(g.Mul(W, x), b))
	})
}

func TestLayerNormGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := NewRandMat(6, 3, rng)
	gain := NewRandMat(6, 1, rng)
	shift := NewRandMat(6, 1, rng)

	gradCheck(t, []*Mat{x, gain, shift}, func(g *Graph) *Mat {
		return g.LayerNorm(x, gain, shift)
	})
}

func TestLeakyReluGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := NewRandMat(5, 2, rng)
	W := NewRandMat(4, 5, rng)

	gradCheck(t, []*Mat{W, x}, func(g *Graph) *Mat {
		return g.LeakyRelu(g.Mul(W, x), 0.2)
	})
}

func TestGatedCellGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	x := NewRandMat(4, 2, rng)
	Wz := NewRandMat(3, 4, rng)
	Wn := NewRandMat(3, 4, rng)

	// (1-z)*n + z-free path, the update-gate structure of the GRU cell.
	gradCheck(t, []*Mat{Wz, Wn, x}, func(g *Graph) *Mat {
		z := g.Sigmoid(g.Mul(Wz, x))
		n := g.Tanh(g.Mul(Wn, x))
		return g.Eltmul(g.OneMinus(z), n)
	})
}

func TestDropoutEltwise(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := NewRandMat(1000, 1, rand.New(rand.NewSource(6)))

	g := NewGraph(true)
	out := g.Dropout(x, 0.3, rng)

	zeros := 0
	scale := 1.0 / 0.7
	for i := range out.W {
		if out.W[i] == 0 {
			zeros++
		} else if math.Abs(out.W[i]-x.W[i]*scale) > 1e-12 {
			t.Fatalf("survivor %d not scaled: %v vs %v", i, out.W[i], x.W[i]*scale)
		}
	}
	// Around 300 of 1000 dropped; allow a generous band.
	if zeros < 200 || zeros > 400 {
		t.Errorf("dropped %d of 1000 at rate 0.3", zeros)
	}

	// Gradient flows only through survivors, scaled identically.
	for i := range out.Dw {
		out.Dw[i] = 1.0
	}
	g.Backward()
	for i := range x.Dw {
		if out.W[i] == 0 && x.Dw[i] != 0 {
			t.Fatalf("gradient leaked through dropped element %d", i)
		}
		if out.W[i] != 0 && math.Abs(x.Dw[i]-scale) > 1e-12 {
			t.Fatalf("survivor gradient %d = %v, want %v", i, x.Dw[i], scale)
		}
	}
}

func TestAdamWMovesAgainstGradient(t *testing.T) {
	p := NewMat(2, 1)
	p.W[0], p.W[1] = 1.0, -1.0
	p.Dw[0], p.Dw[1] = 0.5, -0.5

	opt := NewAdamW(1e-2, 0)
	before := []float64{p.W[0], p.W[1]}
	opt.Step(map[string]*Mat{"p": p})

	if !(p.W[0] < before[0]) {
		t.Errorf("positive gradient should decrease weight: %v -> %v", before[0], p.W[0])
	}
	if !(p.W[1] > before[1]) {
		t.Errorf("negative gradient should increase weight: %v -> %v", before[1], p.W[1])
	}
	if p.Dw[0] != 0 || p.Dw[1] != 0 {
		t.Error("Step must clear gradients")
	}
}

func TestAdamWPropagatesNonFiniteGradient(t *testing.T) {
	// A NaN gradient must corrupt the weight rather than be masked: the
	// trainer treats the resulting non-finite loss as divergence and aborts,
	// and zeroing the gradient here would hide that signal.
	p := NewMat(2, 1)
	p.W[0], p.W[1] = 1.0, -1.0
	p.Dw[0] = math.NaN()
	p.Dw[1] = 0.5

	opt := NewAdamW(1e-2, 0)
	opt.Step(map[string]*Mat{"p": p})

	if !math.IsNaN(p.W[0]) {
		t.Errorf("NaN gradient was masked, weight = %v", p.W[0])
	}
	if math.IsNaN(p.W[1]) {
		t.Error("finite-gradient weight should stay finite")
	}
}

func TestAdamWWeightDecayShrinks(t *testing.T) {
	p := NewMat(1, 1)
	p.W[0] = 2.0
	// No gradient signal: only decay acts.
	opt := NewAdamW(1e-2, 0.1)
	opt.Step(map[string]*Mat{"p": p})
	if !(p.W[0] < 2.0 && p.W[0] > 0) {
		t.Errorf("decay should shrink weight toward zero, got %v", p.W[0])
	}
}

func TestGradCheckNaNFree(t *testing.T) {
	// A zero-variance column exercises the layer-norm epsilon floor.
	x := NewMat(4, 1)
	for i := range x.W {
		x.W[i] = 3.0
	}
	gain := onesColumn(4)
	shift := NewMat(4, 1)

	g := NewGraph(true)
	out := g.LayerNorm(x, gain, shift)
	for _, w := range out.W {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			t.Fatal("layer norm of constant column produced non-finite output")
		}
	}
	for i := range out.Dw {
		out.Dw[i] = 1.0
	}
	g.Backward()
	for _, d := range x.Dw {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			t.Fatal("layer norm backward produced non-finite gradient")
		}
	}
}
