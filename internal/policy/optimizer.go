package policy

import (
	"math"
	"sort"
)

// #region optimizer

// AdamW is a weight-decay-regularized Adam optimizer over a named parameter
// map. The decay is decoupled: it is applied directly to the weights after
// the Adam update, at the base learning rate.
type AdamW struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	WD    float64

	t int
	m map[string][]float64
	v map[string][]float64
}

// NewAdamW creates an optimizer with the given learning rate and weight
// decay; betas and epsilon use the common defaults.
func NewAdamW(lr, weightDecay float64) *AdamW {
	return &AdamW{
		LR:    lr,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
		WD:    weightDecay,
		m:     make(map[string][]float64),
		v:     make(map[string][]float64),
	}
}

// Step applies one update to every parameter from its accumulated gradients,
// then clears the gradients. Iteration is in sorted key order so updates are
// deterministic.
func (o *AdamW) Step(params map[string]*Mat) {
	o.t++
	t := float64(o.t)
	// Bias correction folded into the step size.
	lrT := o.LR * math.Sqrt(1.0-math.Pow(o.Beta2, t)) / (1.0 - math.Pow(o.Beta1, t))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p := params[key]
		if _, ok := o.m[key]; !ok {
			o.m[key] = make([]float64, len(p.W))
			o.v[key] = make([]float64, len(p.W))
		}
		mK, vK := o.m[key], o.v[key]

		for i := range p.W {
			grad := p.Dw[i]
			mK[i] = o.Beta1*mK[i] + (1.0-o.Beta1)*grad
			vK[i] = o.Beta2*vK[i] + (1.0-o.Beta2)*grad*grad
			p.W[i] -= lrT * mK[i] / (math.Sqrt(vK[i]) + o.Eps)
			p.W[i] -= o.LR * o.WD * p.W[i]
		}
		p.ZeroGrads()
	}
}

// #endregion optimizer
