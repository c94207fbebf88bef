// Package model implements the dual-tower bi-encoder: embedding-bag encoder
// towers, the contrastive in-batch-negatives loss, and the manual
// optimization step (AdamW, gradient clipping, warmup/decay scheduling).
package model

import "github.com/continualrank/trainer/internal/mathx"

// Param is one named trainable tensor with its gradient buffer. Matrices are
// stored row-major; vectors have Cols == 1.
type Param struct {
	Name string
	Data []float32
	Grad []float32
	Rows int
	Cols int
	// NoDecay exempts the parameter from weight decay (bias terms).
	NoDecay bool
}

func newParam(name string, rows, cols int, noDecay bool) *Param {
	return &Param{
		Name:    name,
		Data:    make([]float32, rows*cols),
		Grad:    make([]float32, rows*cols),
		Rows:    rows,
		Cols:    cols,
		NoDecay: noDecay,
	}
}

// Row returns the r-th row of the parameter matrix as a slice view.
func (p *Param) Row(r int) []float32 {
	return p.Data[r*p.Cols : (r+1)*p.Cols]
}

// GradRow returns the r-th row of the gradient buffer as a slice view.
func (p *Param) GradRow(r int) []float32 {
	return p.Grad[r*p.Cols : (r+1)*p.Cols]
}

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() {
	mathx.Zero(p.Grad)
}
