package matcher

import (
	"gonum.org/v1/gonum/blas/blas32"
)

// CosineSimilarity computes the cosine of the angle between a and b. Vectors
// of different lengths or with a zero norm yield 0 rather than an error, so
// a degenerate embedding can never claim a match.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	va := blas32.Vector{N: len(a), Inc: 1, Data: a}
	vb := blas32.Vector{N: len(b), Inc: 1, Data: b}

	normA := blas32.Nrm2(va)
	normB := blas32.Nrm2(vb)
	if normA == 0 || normB == 0 {
		return 0
	}
	return float64(blas32.Dot(va, vb) / (normA * normB))
}
