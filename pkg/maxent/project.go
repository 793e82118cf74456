package maxent

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Directions is the dimension of the search subspace.
const Directions = 3

// collapseRatio is the fraction of a column's norm below which projection
// is considered to have annihilated it.
const collapseRatio = 1e-12

// Subspace holds the search directions of one pass as image-space columns.
type Subspace struct {
	Xi [Directions][]float64
}

// NewSubspace allocates a subspace for images of n bins.
func NewSubspace(n int) *Subspace {
	var s Subspace
	for k := range s.Xi {
		s.Xi[k] = make([]float64, n)
	}
	return &s
}

// Project makes column k of xi sum-preserving by removing its mean, then
// Gram–Schmidt orthogonalizes it against columns 0..k-1. A column that
// collapses to rounding noise is zeroed. Only column k is written; the caller
// owns xi exclusively for the duration of the call.
func Project(k int, xi *Subspace) {
	v := xi.Xi[k]
	if len(v) == 0 {
		return
	}
	norm0 := floats.Norm(v, 2)
	floats.AddConst(-floats.Sum(v)/float64(len(v)), v)

	for j := 0; j < k; j++ {
		u := xi.Xi[j]
		uu := floats.Dot(u, u)
		if uu == 0 {
			continue
		}
		floats.AddScaled(v, -floats.Dot(v, u)/uu, u)
	}

	if n := floats.Norm(v, 2); n <= collapseRatio*norm0 || math.IsNaN(n) {
		clear(v)
	}
}
