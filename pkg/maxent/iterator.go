package maxent

import (
	"context"
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// chiFloor bounds chisq/chizer from below in the subspace model so that an
// exact fit keeps finite coefficients.
const chiFloor = 1e-10

// initialTest is the misalignment statistic reported before any pass.
const initialTest = 99

// Iterator drives one maximum-entropy reconstruction. It owns its image, a
// private copy of the uncertainties and all scratch buffers, and is not safe
// for concurrent use.
type Iterator struct {
	problem *Problem
	opts    Options
	resp    Response

	f     []float64
	sigma *mat.Dense
	w     *mat.Dense // 1/sigma²

	state    IterationState
	cold     bool
	steps    int
	fixedSum float64

	pred, resid, ox *mat.Dense
	eta             [Directions]*mat.Dense
	xi              *Subspace
	cgrad, sgrad    []float64
	x2, next, tmp   []float64
	dtmp            []float64
}

// NewIterator prepares a reconstruction of problem. A warm start must supply
// a strictly positive image of the problem's size.
func NewIterator(problem *Problem, opts Options, start Start) (*Iterator, error) {
	if problem == nil {
		return nil, invalidf("nil problem")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	n, points, groups := problem.Dims()

	blank := opts.Blank
	if blank == 0 {
		blank = floats.Sum(problem.base) / float64(n)
	}
	if !(blank > 0) || !isFinite(blank) {
		return nil, invalidf("blank %v must be positive", blank)
	}

	it := &Iterator{
		problem: problem,
		opts:    opts,
		resp:    problem.resp,
		sigma:   mat.DenseCopyOf(problem.sigma),
		w:       mat.NewDense(points, groups, nil),
		cold:    !start.Warm(),
		pred:    mat.NewDense(points, groups, nil),
		resid:   mat.NewDense(points, groups, nil),
		ox:      mat.NewDense(points, groups, nil),
		xi:      NewSubspace(n),
		cgrad:   make([]float64, n),
		sgrad:   make([]float64, n),
		x2:      make([]float64, n),
		next:    make([]float64, n),
		tmp:     make([]float64, n),
		dtmp:    make([]float64, points*groups),
	}
	for k := range it.eta {
		it.eta[k] = mat.NewDense(points, groups, nil)
	}

	if start.Warm() {
		if len(start.Image) != n {
			return nil, invalidf("warm-start image has %d entries, want %d", len(start.Image), n)
		}
		for k, v := range start.Image {
			if !isFinite(v) || !(v > 0) {
				return nil, invalidf("warm-start image[%d] = %v must be positive and finite", k, v)
			}
		}
		it.f = append([]float64(nil), start.Image...)
	} else {
		it.f = problem.Base()
	}
	it.fixedSum = floats.Sum(it.f)
	it.updateWeights()

	chizer := float64(problem.ActivePoints())
	it.state = IterationState{
		State:     StateInit,
		ChiSq:     2 * chizer,
		ChiTarget: chizer,
		ChiZero:   chizer,
		Test:      initialTest,
		Entropy:   Entropy(it.f, problem.base),
		Sum:       it.fixedSum,
		Blank:     blank,
		Factor:    1,
		FacFake:   1,
	}
	if start.Warm() {
		it.state.Iteration = 1
	}
	return it, nil
}

// State returns the current iteration state.
func (it *Iterator) State() IterationState { return it.state }

// Image returns a copy of the current image.
func (it *Iterator) Image() []float64 { return append([]float64(nil), it.f...) }

// Run steps until the run converges or the iteration limit is reached. The
// context is consulted between passes only. On the iteration limit the
// result is returned together with ErrNotConverged.
func (it *Iterator) Run(ctx context.Context) (*Result, error) {
	for !it.state.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("maxent: stopped after %d iterations: %w", it.steps, err)
		}
		if err := it.Step(); err != nil {
			return nil, err
		}
	}

	res := it.result()
	if res.State() == StateMaxIterReached {
		return res, fmt.Errorf("%w after %d iterations (chisq/chizer %.4f, test %.4f)",
			ErrNotConverged, res.Iterations, it.state.ChiRatio(), it.state.Test)
	}
	return res, nil
}

// Step performs one pass. It is a no-op once the run is terminal. When it
// returns an error the image is left as it was before the pass.
func (it *Iterator) Step() error {
	if it.state.State.Terminal() {
		return nil
	}
	it.state.State = StateIterating

	if it.state.ChiZero == 0 {
		// Nothing constrains the image: it stays at the prior.
		it.state.ChiSq = it.chiSquared()
		it.state.ChiTarget = 0
		it.finishPass(0)
		it.state.State = StateConverged
		return nil
	}

	st := &it.state
	sum := floats.Sum(it.f)

	// Gradients.
	chisq := it.chiSquared()
	if !isFinite(chisq) {
		return it.diverged("chi-squared")
	}
	it.ox.MulElem(it.resid, it.w)
	it.ox.Scale(2, it.ox)
	it.resp.Adjoint(it.cgrad, it.ox)
	entropyGradient(it.sgrad, it.f, it.problem.base, st.Blank)
	if !allFinite(it.cgrad) {
		return it.diverged("chi-squared gradient")
	}
	if !allFinite(it.sgrad) {
		return it.diverged("entropy gradient")
	}
	if it.opts.SumFix {
		removeWeightedMean(it.sgrad, it.f, sum)
		removeWeightedMean(it.cgrad, it.f, sum)
	}

	snorm := math.Sqrt(it.weightedDot(it.sgrad, it.sgrad))
	cnorm := math.Sqrt(it.weightedDot(it.cgrad, it.cgrad))
	tnorm := it.weightedDot(it.sgrad, it.cgrad)

	// Coefficients of the two principal directions.
	a, b := 1.0, 0.0
	if cnorm > 0 {
		b = 1 / cnorm
	}
	test := float64(initialTest)
	if !it.cold {
		test = math.Sqrt(0.5)
		if snorm > 0 && cnorm > 0 {
			test = math.Sqrt(0.5 * math.Abs(1-tnorm/(snorm*cnorm)))
		}
		test = math.Max(test, 1e-10)
		a = 0
		if snorm > 0 {
			a = 0.5 / (snorm * test)
		}
		b *= 0.5 / test
	}
	st.Test = test

	// Search subspace.
	xi := it.xi.Xi
	vecmath.MulBlock(xi[0], it.f, it.cgrad)
	if cnorm > 0 {
		floats.Scale(1/cnorm, xi[0])
	} else {
		clear(xi[0])
	}
	for i := range xi[1] {
		xi[1][i] = it.f[i] * (a*it.sgrad[i] - b*it.cgrad[i])
	}
	if it.opts.SumFix {
		Project(0, it.xi)
		Project(1, it.xi)
	}
	it.resp.Forward(it.eta[0], xi[0])
	it.resp.Forward(it.eta[1], xi[1])

	it.ox.MulElem(it.eta[1], it.w)
	it.resp.Adjoint(it.x2, it.ox)
	vecmath.MulBlock(xi[2], it.f, it.x2)
	if nn := math.Sqrt(floats.Dot(xi[2], it.x2)); nn > 0 {
		floats.Scale(1/nn, xi[2])
	} else {
		clear(xi[2])
	}
	if it.opts.SumFix {
		Project(2, it.xi)
	}
	it.resp.Forward(it.eta[2], xi[2])
	for k := range xi {
		if !allFinite(xi[k]) || !allFinite(it.eta[k].RawMatrix().Data) {
			return it.diverged(fmt.Sprintf("search direction %d", k))
		}
	}

	// Quadratic models.
	in := MoveInput{
		ChiSq:   math.Max(chisq, chiFloor*st.ChiZero),
		ChiZero: st.ChiZero,
		Sum:     sum,
		Blank:   st.Blank,
		Factor:  st.Factor,
		FacFake: st.FacFake,
		Sigma:   it.sigma,
	}
	for k := 0; k < Directions; k++ {
		in.C1[k] = floats.Dot(xi[k], it.cgrad) / in.ChiSq
		in.S1[k] = floats.Dot(xi[k], it.sgrad)
		for l := 0; l <= k; l++ {
			c2 := 2 * it.dataDot(it.eta[k], it.eta[l]) / in.ChiSq
			s2 := -it.inverseDot(xi[k], xi[l]) / st.Blank
			in.C2[k][l], in.C2[l][k] = c2, c2
			in.S2[k][l], in.S2[l][k] = s2, s2
		}
	}
	if !allFinite(in.C1[:]) || !allFinite(in.S1[:]) || !allFinite(flatten(&in.C2)) || !allFinite(flatten(&in.S2)) {
		return it.diverged("curvature")
	}

	// Step.
	var beta [Directions]float64
	if it.cold {
		if in.C2[0][0] > 0 {
			beta[0] = -0.5 * in.C1[0] / in.C2[0][0]
		}
	} else {
		mv, err := Move(in, it.opts)
		if err != nil {
			return it.diverged("trust-region step")
		}
		beta = mv.Beta
		st.ChiTarget = mv.ChiTarget
		st.Factor, st.FacFake = mv.Factor, mv.FacFake
		if mv.Rescaled {
			it.updateWeights()
		}
	}

	// Image update.
	copy(it.next, it.f)
	for k := range xi {
		floats.AddScaled(it.next, beta[k], xi[k])
	}
	floor := it.opts.FloorFactor * st.Blank
	for i, v := range it.next {
		if v <= 0 {
			it.next[i] = floor
		}
	}
	if it.opts.SumFix {
		floats.Scale(it.fixedSum/floats.Sum(it.next), it.next)
	}
	if !allFinite(it.next) {
		return it.diverged("image")
	}
	copy(it.f, it.next)

	st.ChiSq = it.chiSquared()
	it.finishPass(test)
	return nil
}

// finishPass advances the counter, refreshes the scalar state, notifies the
// callbacks and applies the terminal transitions.
func (it *Iterator) finishPass(test float64) {
	st := &it.state
	st.Iteration++
	it.steps++
	it.cold = false
	st.Entropy = Entropy(it.f, it.problem.base)
	st.Sum = floats.Sum(it.f)

	if it.opts.Progress != nil {
		it.opts.Progress(st.Iteration, st.chiString())
	}
	if it.opts.Monitor != nil {
		it.opts.Monitor(*st, it.f)
	}

	if st.ChiZero == 0 {
		return
	}
	if st.Iteration > 1 && test < it.opts.TestLimit && math.Abs(st.ChiRatio()-1) < it.opts.ChiLimit {
		st.State = StateConverged
		return
	}
	if it.steps >= it.opts.MaxIter {
		st.State = StateMaxIterReached
	}
}

// chiSquared predicts the data of the current image, leaves the residual in
// it.resid and returns Σ residual²/sigma².
func (it *Iterator) chiSquared() float64 {
	it.resp.Forward(it.pred, it.f)
	it.resid.Sub(it.pred, it.problem.datum)
	r := it.resid.RawMatrix().Data
	return it.dataDotRaw(r, r)
}

func (it *Iterator) updateWeights() {
	it.w.Apply(func(i, j int, _ float64) float64 {
		s := it.sigma.At(i, j)
		return 1 / (s * s)
	}, it.w)
}

// weightedDot returns Σ f·u·v, the inner product of the entropy metric.
func (it *Iterator) weightedDot(u, v []float64) float64 {
	vecmath.MulBlock(it.tmp, it.f, u)
	return floats.Dot(it.tmp, v)
}

// inverseDot returns Σ u·v/f.
func (it *Iterator) inverseDot(u, v []float64) float64 {
	var s float64
	for i, fi := range it.f {
		s += u[i] * v[i] / fi
	}
	return s
}

// dataDot returns Σ a·b/sigma² over the data array.
func (it *Iterator) dataDot(a, b *mat.Dense) float64 {
	return it.dataDotRaw(a.RawMatrix().Data, b.RawMatrix().Data)
}

func (it *Iterator) dataDotRaw(a, b []float64) float64 {
	vecmath.MulBlock(it.dtmp, a, it.w.RawMatrix().Data)
	return floats.Dot(it.dtmp, b)
}

func (it *Iterator) diverged(quantity string) error {
	return &DivergenceError{Iteration: it.state.Iteration + 1, Quantity: quantity}
}

func (it *Iterator) result() *Result {
	return &Result{
		Image:      it.Image(),
		Sigma:      mat.DenseCopyOf(it.sigma),
		Iterations: it.steps,
		Final:      it.state,
	}
}

func flatten(m *[Directions][Directions]float64) []float64 {
	out := make([]float64, 0, Directions*Directions)
	for k := range m {
		out = append(out, m[k][:]...)
	}
	return out
}
