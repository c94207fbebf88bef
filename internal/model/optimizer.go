package model

import "math"

// AdamW implements decoupled weight-decay Adam. Parameters flagged NoDecay
// (bias terms) skip the decay term, mirroring the usual transformer
// parameter grouping.
type AdamW struct {
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64

	m map[string][]float32
	v map[string][]float32
	t int
}

// NewAdamW creates an AdamW optimizer with the standard betas.
func NewAdamW(eps, weightDecay float64) *AdamW {
	return &AdamW{
		beta1:       0.9,
		beta2:       0.999,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make(map[string][]float32),
		v:           make(map[string][]float32),
	}
}

// Step applies one update to every parameter using the given learning rate.
func (o *AdamW) Step(params []*Param, lr float64) {
	o.t++
	bc1 := 1 - math.Pow(o.beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.beta2, float64(o.t))

	for _, p := range params {
		m, ok := o.m[p.Name]
		if !ok {
			m = make([]float32, len(p.Data))
			o.m[p.Name] = m
			o.v[p.Name] = make([]float32, len(p.Data))
		}
		v := o.v[p.Name]

		decay := o.weightDecay
		if p.NoDecay {
			decay = 0
		}

		for i := range p.Data {
			g := float64(p.Grad[i])
			mi := o.beta1*float64(m[i]) + (1-o.beta1)*g
			vi := o.beta2*float64(v[i]) + (1-o.beta2)*g*g
			m[i] = float32(mi)
			v[i] = float32(vi)

			update := (mi / bc1) / (math.Sqrt(vi/bc2) + o.eps)
			p.Data[i] -= float32(lr * (update + decay*float64(p.Data[i])))
		}
	}
}
