package maxent

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Entropy returns S(f) = -Σ f·log(f/(base·e)) relative to the prior base.
// It is maximal, equal to Σ base, at f = base.
func Entropy(f, base []float64) float64 {
	var s float64
	for i, v := range f {
		s -= v * (math.Log(v/base[i]) - 1)
	}
	return s
}

// entropyGradient writes -log(f/base)/blank into dst.
func entropyGradient(dst, f, base []float64, blank float64) {
	for i, v := range f {
		dst[i] = -math.Log(v/base[i]) / blank
	}
}

// removeWeightedMean subtracts the f-weighted mean from g, leaving the part
// of g tangent to the constant-sum surface in the entropy metric.
func removeWeightedMean(g, f []float64, total float64) {
	if total == 0 {
		return
	}
	floats.AddConst(-floats.Dot(f, g)/total, g)
}
