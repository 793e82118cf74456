package maxent

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ridges are the diagonal loadings, relative to the largest diagonal entry,
// tried when a curvature matrix is not numerically positive definite.
var ridges = [...]float64{1e-10, 1e-6, 1e-3}

// MoveInput is the local quadratic model of one pass.
type MoveInput struct {
	ChiSq   float64
	ChiZero float64

	// Sum is Σf of the current image.
	Sum   float64
	Blank float64

	// C1 and C2 are the chi-squared gradient and curvature in the subspace,
	// both divided by ChiSq.
	C1 [Directions]float64
	C2 [Directions][Directions]float64

	// S1 and S2 are the entropy gradient and curvature in the subspace.
	S1 [Directions]float64
	S2 [Directions][Directions]float64

	Factor  float64
	FacFake float64

	// Sigma is rescaled in place when RescaleSigma is set and the target
	// cannot be met. The caller must own it exclusively.
	Sigma *mat.Dense
}

// MoveResult is the step chosen by Move.
type MoveResult struct {
	Beta [Directions]float64

	ChiSq     float64
	ChiTarget float64

	Factor  float64
	FacFake float64

	// Rescaled reports whether Sigma was multiplied by the new Factor ratio.
	Rescaled bool

	// Distance is the entropy-metric length -βᵀ·S2·β of the final step.
	Distance float64

	// Alpha is the entropy weight of the final step.
	Alpha float64
	Loops int
}

// Move solves the trust-region subproblem of one pass. For a multiplier
// α ∈ [0,1] the step β(α) maximizes α·S - (1-α)·C in the quadratic model;
// α is chosen by bisection so that the modelled chi-squared ratio meets the
// target, and the step is then shortened to the distance limit.
func Move(in MoveInput, opts Options) (MoveResult, error) {
	out := MoveResult{ChiSq: in.ChiSq, Factor: in.Factor, FacFake: in.FacFake}

	cmin, beta, err := chiNow(0, &in)
	if err != nil {
		return out, err
	}

	var ctarg float64
	if cmin*in.ChiSq > in.ChiZero {
		ctarg = 0.5 * (1 + cmin)
	} else {
		ctarg = in.ChiZero / in.ChiSq
	}

	flo := cmin - ctarg
	cup, bup, err := chiNow(1, &in)
	if err != nil {
		return out, err
	}
	fup := cup - ctarg

	lo, hi := 0.0, 1.0
	if fup <= 0 {
		beta = bup
		out.Alpha = 1
	} else {
		fx := math.Inf(1)
		for out.Loops < opts.MaxMoveLoops && math.Abs(fx) > opts.MoveTolerance {
			mid := 0.5 * (lo + hi)
			var c float64
			c, beta, err = chiNow(mid, &in)
			if err != nil {
				return out, err
			}
			fx = c - ctarg
			if flo*fx > 0 {
				lo, flo = mid, fx
			}
			if fup*fx > 0 {
				hi, fup = mid, fx
			}
			out.Alpha = mid
			out.Loops++
		}
	}

	w := -quadForm(&in.S2, beta)
	if limit := opts.DistanceLimit * in.Sum / in.Blank; w > limit {
		scale := math.Sqrt(limit / w)
		for k := range beta {
			beta[k] *= scale
		}
		w = limit
	}
	out.Beta = beta
	out.Distance = w
	out.ChiTarget = ctarg * in.ChiSq

	if opts.RescaleSigma && cmin > 0.99 && cmin*in.ChiSq > 1.01*in.ChiZero {
		r := math.Sqrt(cmin * in.ChiSq / in.ChiZero)
		rescaleSigma(in.Sigma, r)
		out.Factor *= r
		out.FacFake = out.Factor * out.Factor
		out.ChiSq /= r * r
		out.ChiTarget /= r * r
		out.Rescaled = true
	}

	if !isFinite(out.ChiTarget) || !allFinite(out.Beta[:]) {
		return out, ErrNumericalDivergence
	}
	return out, nil
}

// chiNow returns the modelled chi-squared ratio 1 + β·(c1 + ½·c2·β) of the
// step that solves ((1-α)·c2 - α·s2)·β = -((1-α)·c1 - α·s1).
func chiNow(alpha float64, in *MoveInput) (float64, [Directions]float64, error) {
	var beta [Directions]float64
	bx := 1 - alpha

	a := mat.NewSymDense(Directions, nil)
	b := mat.NewVecDense(Directions, nil)
	for i := 0; i < Directions; i++ {
		for j := 0; j <= i; j++ {
			a.SetSym(i, j, bx*in.C2[i][j]-alpha*in.S2[i][j])
		}
		b.SetVec(i, -(bx*in.C1[i] - alpha*in.S1[i]))
	}

	x, err := solveSym(a, b)
	if err != nil {
		return 0, beta, err
	}
	copy(beta[:], x)

	w := 0.0
	for k := 0; k < Directions; k++ {
		var c2b float64
		for l := 0; l < Directions; l++ {
			c2b += in.C2[k][l] * beta[l]
		}
		w += beta[k] * (in.C1[k] + 0.5*c2b)
	}
	ratio := 1 + w
	if !isFinite(ratio) {
		return 0, beta, ErrNumericalDivergence
	}
	return ratio, beta, nil
}

// solveSym solves a·x = b for a symmetric matrix. Cholesky is tried first,
// then with increasing diagonal loading, then QR. A zero matrix carries no
// curvature information and yields the zero step.
func solveSym(a *mat.SymDense, b *mat.VecDense) ([]float64, error) {
	n := a.SymmetricDim()
	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(a.At(i, i)))
	}
	if scale == 0 || math.IsNaN(scale) {
		if math.IsNaN(scale) {
			return nil, ErrNumericalDivergence
		}
		return make([]float64, n), nil
	}

	var x mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(&x, b); err == nil && allFinite(x.RawVector().Data) {
			return x.RawVector().Data, nil
		}
	}

	loaded := mat.NewSymDense(n, nil)
	for _, ridge := range ridges {
		loaded.CopySym(a)
		for i := 0; i < n; i++ {
			loaded.SetSym(i, i, a.At(i, i)+ridge*scale)
		}
		if !chol.Factorize(loaded) {
			continue
		}
		if err := chol.SolveVecTo(&x, b); err == nil && allFinite(x.RawVector().Data) {
			return x.RawVector().Data, nil
		}
	}

	var qr mat.QR
	qr.Factorize(mat.DenseCopyOf(a))
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	if !allFinite(x.RawVector().Data) {
		return nil, ErrNumericalDivergence
	}
	return x.RawVector().Data, nil
}

func quadForm(m *[Directions][Directions]float64, v [Directions]float64) float64 {
	var s float64
	for k := 0; k < Directions; k++ {
		s += v[k] * floats.Dot(m[k][:], v[:])
	}
	return s
}

// rescaleSigma multiplies every unmasked uncertainty by r.
func rescaleSigma(sigma *mat.Dense, r float64) {
	if sigma == nil {
		return
	}
	sigma.Apply(func(_, _ int, v float64) float64 {
		if v >= MaskThreshold {
			return v
		}
		return v * r
	}, sigma)
}
