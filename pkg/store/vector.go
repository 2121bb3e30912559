package store

import "gonum.org/v1/gonum/blas/blas32"

// Centroid returns the elementwise mean of the given sample embeddings.
// Samples whose length differs from the first sample are skipped so that a
// single corrupt training recording cannot poison the whole profile.
// Returns nil when no usable samples exist.
func Centroid(samples [][]float32) []float32 {
	var (
		acc  []float32
		dims int
		n    int
	)
	for _, s := range samples {
		if len(s) == 0 {
			continue
		}
		if acc == nil {
			dims = len(s)
			acc = make([]float32, dims)
		}
		if len(s) != dims {
			continue
		}
		blas32.Axpy(1,
			blas32.Vector{N: dims, Data: s, Inc: 1},
			blas32.Vector{N: dims, Data: acc, Inc: 1},
		)
		n++
	}
	if n == 0 {
		return nil
	}
	blas32.Scal(1/float32(n), blas32.Vector{N: dims, Data: acc, Inc: 1})
	return acc
}
