package model

import (
	"math"
	"math/rand"

	"github.com/continualrank/trainer/internal/mathx"
)

// Encoder is one tower of the bi-encoder: an embedding bag pooled by mean,
// a tanh pooler layer, and L2 normalization of the output.
type Encoder struct {
	embeddings *Param // vocab x dim
	poolerW    *Param // dim x dim
	poolerB    *Param // dim
	dim        int
}

// encoderCache holds the per-example activations the backward pass needs.
type encoderCache struct {
	tokens [][]int
	pooled [][]float32 // mean of token embeddings
	hidden [][]float32 // tanh(W pooled + b)
	norms  []float32   // ||hidden||
	out    [][]float32 // hidden / ||hidden||
}

// newEncoder builds a tower with seeded random initialization. Embeddings
// start small and uniform; the pooler weight uses 1/sqrt(dim) scaling.
func newEncoder(prefix string, vocabSize, dim int, rng *rand.Rand) *Encoder {
	e := &Encoder{
		embeddings: newParam(prefix+".embeddings.weight", vocabSize, dim, false),
		poolerW:    newParam(prefix+".pooler.weight", dim, dim, false),
		poolerB:    newParam(prefix+".pooler.bias", dim, 1, true),
		dim:        dim,
	}
	for i := range e.embeddings.Data {
		e.embeddings.Data[i] = (rng.Float32()*2 - 1) * 0.08
	}
	scale := float32(1 / math.Sqrt(float64(dim)))
	for i := range e.poolerW.Data {
		e.poolerW.Data[i] = (rng.Float32()*2 - 1) * scale
	}
	return e
}

func (e *Encoder) params() []*Param {
	return []*Param{e.embeddings, e.poolerW, e.poolerB}
}

// Forward encodes a batch of token-id sequences into L2-normalized
// embeddings, retaining the activations needed for backward.
func (e *Encoder) Forward(tokens [][]int) ([][]float32, *encoderCache) {
	n := len(tokens)
	cache := &encoderCache{
		tokens: tokens,
		pooled: make([][]float32, n),
		hidden: make([][]float32, n),
		norms:  make([]float32, n),
		out:    make([][]float32, n),
	}
	for i, ids := range tokens {
		pooled := make([]float32, e.dim)
		for _, id := range ids {
			mathx.Axpy(1, e.embeddings.Row(id), pooled)
		}
		mathx.Scale(1/float32(len(ids)), pooled)

		hidden := make([]float32, e.dim)
		for j := 0; j < e.dim; j++ {
			z := mathx.Dot(e.poolerW.Row(j), pooled) + e.poolerB.Data[j]
			hidden[j] = float32(math.Tanh(float64(z)))
		}

		norm := mathx.Norm(hidden)
		if norm == 0 {
			norm = 1
		}
		out := make([]float32, e.dim)
		for j := range hidden {
			out[j] = hidden[j] / norm
		}

		cache.pooled[i] = pooled
		cache.hidden[i] = hidden
		cache.norms[i] = norm
		cache.out[i] = out
	}
	return cache.out, cache
}

// Backward accumulates gradients for the batch given the gradient of the
// loss with respect to the normalized outputs.
func (e *Encoder) Backward(cache *encoderCache, dOut [][]float32) {
	dHidden := make([]float32, e.dim)
	dPreact := make([]float32, e.dim)
	dPooled := make([]float32, e.dim)

	for i := range cache.out {
		y := cache.out[i]
		h := cache.hidden[i]
		norm := cache.norms[i]
		dy := dOut[i]

		// L2 normalization: dh = (dy - y (y . dy)) / ||h||
		proj := mathx.Dot(y, dy)
		for j := range dHidden {
			dHidden[j] = (dy[j] - y[j]*proj) / norm
		}

		// tanh: dz = dh (1 - h^2)
		for j := range dPreact {
			dPreact[j] = dHidden[j] * (1 - h[j]*h[j])
		}

		mathx.Axpy(1, dPreact, e.poolerB.Grad)
		mathx.Zero(dPooled)
		for j := 0; j < e.dim; j++ {
			mathx.Axpy(dPreact[j], cache.pooled[i], e.poolerW.GradRow(j))
			mathx.Axpy(dPreact[j], e.poolerW.Row(j), dPooled)
		}

		inv := 1 / float32(len(cache.tokens[i]))
		for _, id := range cache.tokens[i] {
			mathx.Axpy(inv, dPooled, e.embeddings.GradRow(id))
		}
	}
}
