// Package mathx implements the float32 vector kernels used by the bi-encoder:
// dot products, score matrices, softmax, and the in-place updates the manual
// backward pass is built from.
package mathx

import "math"

// Dot returns the inner product of a and b. Lengths must match.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// ScoreMatrix computes the pairwise dot-product similarity between query and
// context embeddings: out[i][j] = q[i] . c[j].
func ScoreMatrix(q, c [][]float32) [][]float32 {
	out := make([][]float32, len(q))
	for i := range q {
		row := make([]float32, len(c))
		for j := range c {
			row[j] = Dot(q[i], c[j])
		}
		out[i] = row
	}
	return out
}

// LogSoftmax returns the log-softmax of row, computed with the max trick for
// numeric stability.
func LogSoftmax(row []float32) []float32 {
	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - maxVal))
	}
	logSum := float32(math.Log(sum)) + maxVal
	out := make([]float32, len(row))
	for i, v := range row {
		out[i] = v - logSum
	}
	return out
}

// Softmax returns the softmax of row.
func Softmax(row []float32) []float32 {
	out := LogSoftmax(row)
	for i, v := range out {
		out[i] = float32(math.Exp(float64(v)))
	}
	return out
}

// Argmax returns the index of the largest element of row. Ties resolve to
// the first occurrence.
func Argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// Axpy adds alpha*x into y in place.
func Axpy(alpha float32, x, y []float32) {
	for i := range x {
		y[i] += alpha * x[i]
	}
}

// Scale multiplies x by alpha in place.
func Scale(alpha float32, x []float32) {
	for i := range x {
		x[i] *= alpha
	}
}

// Zero clears x in place.
func Zero(x []float32) {
	for i := range x {
		x[i] = 0
	}
}

// Norm returns the Euclidean norm of x.
func Norm(x []float32) float32 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}
