package maxent

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// MaskThreshold is the uncertainty at or above which a bin counts as
	// carrying no data.
	MaskThreshold = 1e14

	// MaskedSigma is the uncertainty written for bins without data.
	MaskedSigma = 1e15
)

// Response is a linear map from images of length n to data arrays of shape
// points × groups, with its exact adjoint. Implementations panic on shape
// mismatches and may keep scratch state; a Response is used by one
// Iterator at a time.
type Response interface {
	Dims() (n, points, groups int)
	Forward(dst *mat.Dense, image []float64)
	Adjoint(dst []float64, y mat.Matrix)
}

// Problem bundles the immutable inputs of a reconstruction. NewProblem copies
// everything it is given.
type Problem struct {
	datum *mat.Dense
	sigma *mat.Dense
	base  []float64
	resp  Response

	n, points, groups int
	active            int
}

// NewProblem validates and copies datum, sigma and base. Shapes must agree
// with resp, datum must be finite, sigma positive (bins at or above
// MaskThreshold are masked) and base strictly positive.
func NewProblem(datum, sigma mat.Matrix, base []float64, resp Response) (*Problem, error) {
	if resp == nil {
		return nil, invalidf("nil response")
	}
	if datum == nil || sigma == nil {
		return nil, invalidf("nil data or uncertainty")
	}
	n, points, groups := resp.Dims()
	if n <= 0 || points <= 0 || groups <= 0 {
		return nil, invalidf("response dimensions %d×(%d,%d) must be positive", n, points, groups)
	}
	if r, c := datum.Dims(); r != points || c != groups {
		return nil, invalidf("datum is %d×%d, response expects %d×%d", r, c, points, groups)
	}
	if r, c := sigma.Dims(); r != points || c != groups {
		return nil, invalidf("sigma is %d×%d, response expects %d×%d", r, c, points, groups)
	}
	if len(base) != n {
		return nil, invalidf("base has %d entries, response expects %d", len(base), n)
	}

	p := &Problem{
		datum:  mat.DenseCopyOf(datum),
		sigma:  mat.DenseCopyOf(sigma),
		base:   append([]float64(nil), base...),
		resp:   resp,
		n:      n,
		points: points,
		groups: groups,
	}

	for t := 0; t < points; t++ {
		for g := 0; g < groups; g++ {
			d, s := p.datum.At(t, g), p.sigma.At(t, g)
			if !isFinite(d) {
				return nil, invalidf("datum[%d,%d] = %v", t, g, d)
			}
			if !isFinite(s) || !(s > 0) {
				return nil, invalidf("sigma[%d,%d] = %v must be positive and finite", t, g, s)
			}
			if s < MaskThreshold {
				p.active++
			}
		}
	}
	for k, v := range p.base {
		if !isFinite(v) || !(v > 0) {
			return nil, invalidf("base[%d] = %v must be positive and finite", k, v)
		}
	}
	return p, nil
}

// Dims returns the image size, the number of time points and the number of
// groups.
func (p *Problem) Dims() (n, points, groups int) { return p.n, p.points, p.groups }

// ActivePoints returns the number of unmasked data bins, the expected
// chi-squared of a correct model.
func (p *Problem) ActivePoints() int { return p.active }

// Base returns a copy of the prior image.
func (p *Problem) Base() []float64 { return append([]float64(nil), p.base...) }

// Datum returns a copy of the data array.
func (p *Problem) Datum() *mat.Dense { return mat.DenseCopyOf(p.datum) }

// Sigma returns a copy of the uncertainty array as supplied.
func (p *Problem) Sigma() *mat.Dense { return mat.DenseCopyOf(p.sigma) }

// UniformPrior returns a flat prior of n bins at level.
func UniformPrior(n int, level float64) []float64 {
	base := make([]float64, n)
	for i := range base {
		base[i] = level
	}
	return base
}

// MaskBins sets the uncertainty of the listed time bins to MaskedSigma in
// every group.
func MaskBins(sigma *mat.Dense, bins ...int) {
	_, groups := sigma.Dims()
	for _, t := range bins {
		for g := 0; g < groups; g++ {
			sigma.Set(t, g, MaskedSigma)
		}
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
