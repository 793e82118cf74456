package maxent

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"musrmaxent/pkg/response"
)

// TestNoiselessRoundTrip reconstructs a smooth two-line spectrum from its own
// noiseless prediction.
func TestNoiselessRoundTrip(t *testing.T) {
	fx := newFixture(t)

	it, err := NewIterator(fx.problem(t), DefaultOptions(), ColdStart())
	require.NoError(t, err)

	res, err := it.Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Converged())

	ratio := res.Final.ChiRatio()
	assert.GreaterOrEqual(t, ratio, 0.99)
	assert.LessOrEqual(t, ratio, 1.01)
	assert.Less(t, maxRelativeError(res.Image, fx.truth), 0.05)
	assert.Less(t, res.Final.Test, 0.02)
	assert.Equal(t, res.Iterations, res.Final.Iteration, "cold start counts from zero")
	assert.Equal(t, 1.0, res.Final.Factor)
}

func TestSumFixPreservesTotal(t *testing.T) {
	fx := newFixture(t)
	total := floats.Sum(fx.base)

	opts := DefaultOptions()
	opts.SumFix = true
	var sums []float64
	opts.Monitor = func(st IterationState, image []float64) {
		sums = append(sums, floats.Sum(image))
		assert.InDelta(t, st.Sum, floats.Sum(image), 1e-12*total)
	}

	it, err := NewIterator(fx.problem(t), opts, ColdStart())
	require.NoError(t, err)
	res, err := it.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged())

	require.NotEmpty(t, sums)
	for i, s := range sums {
		assert.InDelta(t, total, s, 1e-9*total, "sum drifted at pass %d", i+1)
	}
	assert.Less(t, maxRelativeError(res.Image, fx.truth), 0.05)
}

func TestPositivityWithNoiseAndMasking(t *testing.T) {
	const n, points = 128, 200
	model, err := response.NewModel(response.Params{
		ImageSize:  n,
		Points:     points,
		FFTSize:    256,
		TimeStep:   0.016,
		Groups:     quadrature(4),
		Efficiency: response.DecayEfficiency(points, 0.016, 2.197),
		Pulse:      response.PulseShape{Width: 0.05},
	})
	require.NoError(t, err)

	truth := make([]float64, n)
	for k := range truth {
		x := (float64(k) - 30) / 3
		truth[k] = 0.5 + 4*math.Exp(-0.5*x*x)
	}
	datum := model.ForwardImage(truth)
	raw := datum.RawMatrix().Data
	rms := math.Sqrt(floats.Dot(raw, raw) / float64(len(raw)))

	rng := rand.New(rand.NewPCG(42, 1))
	sigma := mat.NewDense(points, 4, nil)
	for i := range raw {
		raw[i] += 0.05 * rms * rng.NormFloat64()
	}
	sigma.Apply(func(_, _ int, _ float64) float64 { return 0.05 * rms }, sigma)
	MaskBins(sigma, 0, 1, 2, 150, 151)

	problem, err := NewProblem(datum, sigma, UniformPrior(n, floats.Sum(truth)/n), model)
	require.NoError(t, err)
	assert.Equal(t, (points-5)*4, problem.ActivePoints())

	opts := DefaultOptions()
	passes := 0
	opts.Monitor = func(_ IterationState, image []float64) {
		passes++
		for k, v := range image {
			if !(v > 0) {
				t.Fatalf("image[%d] = %v after pass %d", k, v, passes)
			}
		}
	}

	it, err := NewIterator(problem, opts, ColdStart())
	require.NoError(t, err)
	res, err := it.Run(context.Background())
	if err != nil {
		require.ErrorIs(t, err, ErrNotConverged)
	}
	require.NotNil(t, res)
	assert.Equal(t, res.Iterations, passes)
}

// TestWarmStartIdempotent restarts from a converged image and expects one
// more pass to keep the verdict and leave the image essentially unchanged.
func TestWarmStartIdempotent(t *testing.T) {
	for _, sumFix := range []bool{false, true} {
		t.Run("sumfix="+strconv.FormatBool(sumFix), func(t *testing.T) {
			fx := newFixture(t)
			opts := DefaultOptions()
			opts.SumFix = sumFix

			first, err := NewIterator(fx.problem(t), opts, ColdStart())
			require.NoError(t, err)
			done, err := first.Run(context.Background())
			require.NoError(t, err)
			require.True(t, done.Converged())

			again, err := NewIterator(fx.problem(t), opts, WarmStart(done.Image))
			require.NoError(t, err)
			assert.Equal(t, 1, again.State().Iteration)

			res, err := again.Run(context.Background())
			require.NoError(t, err)
			assert.True(t, res.Converged())
			assert.Equal(t, 1, res.Iterations)
			assert.Less(t, maxRelativeError(res.Image, done.Image), 1e-3)
		})
	}
}

// TestEntropyRisesFromOverfit starts at the exact spectrum, where the data is
// matched perfectly, and expects the entropy to grow every pass while
// chi-squared relaxes to its expected value.
func TestEntropyRisesFromOverfit(t *testing.T) {
	fx := newFixture(t)

	opts := DefaultOptions()
	entropies := []float64{Entropy(fx.truth, fx.base)}
	opts.Monitor = func(st IterationState, _ []float64) {
		entropies = append(entropies, st.Entropy)
	}

	it, err := NewIterator(fx.problem(t), opts, WarmStart(fx.truth))
	require.NoError(t, err)
	res, err := it.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Converged())

	require.Greater(t, len(entropies), 1)
	for i := 1; i < len(entropies); i++ {
		assert.GreaterOrEqual(t, entropies[i], entropies[i-1]-1e-9, "entropy fell at pass %d", i)
	}
	assert.Greater(t, entropies[len(entropies)-1], entropies[0])
}

func TestAllMaskedTracksPrior(t *testing.T) {
	fx := newFixture(t)
	sigma := mat.DenseCopyOf(fx.sigma)
	sigma.Apply(func(_, _ int, _ float64) float64 { return MaskedSigma }, sigma)

	problem, err := NewProblem(fx.datum, sigma, fx.base, fx.model)
	require.NoError(t, err)
	assert.Zero(t, problem.ActivePoints())

	it, err := NewIterator(problem, DefaultOptions(), ColdStart())
	require.NoError(t, err)
	res, err := it.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Converged())
	assert.Equal(t, 1, res.Iterations)
	assert.InDelta(t, 0, res.Final.ChiSq, 1e-12)
	assert.InDeltaSlice(t, fx.base, res.Image, 1e-12)
}

func TestMaxIterIsSoftFailure(t *testing.T) {
	fx := newFixture(t)
	opts := DefaultOptions()
	opts.MaxIter = 2

	it, err := NewIterator(fx.problem(t), opts, ColdStart())
	require.NoError(t, err)
	res, err := it.Run(context.Background())

	require.ErrorIs(t, err, ErrNotConverged)
	require.NotNil(t, res)
	assert.Equal(t, StateMaxIterReached, res.State())
	assert.Equal(t, 2, res.Iterations)
	assert.Len(t, res.Image, len(fx.base))
	for _, v := range res.Image {
		assert.Greater(t, v, 0.0)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	opts := DefaultOptions()
	opts.Progress = func(iteration int, _ string) {
		if iteration == 1 {
			cancel()
		}
	}

	it, err := NewIterator(fx.problem(t), opts, ColdStart())
	require.NoError(t, err)
	res, err := it.Run(ctx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, it.State().Iteration)
}

func TestProgressReportsEveryPass(t *testing.T) {
	fx := newFixture(t)
	opts := DefaultOptions()

	var seen []int
	var last string
	opts.Progress = func(iteration int, chisq string) {
		seen = append(seen, iteration)
		last = chisq
	}

	it, err := NewIterator(fx.problem(t), opts, ColdStart())
	require.NoError(t, err)
	res, err := it.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, res.Iterations)
	for i, v := range seen {
		assert.Equal(t, i+1, v)
	}
	ratio, err := strconv.ParseFloat(last, 64)
	require.NoError(t, err)
	assert.InDelta(t, res.Final.ChiRatio(), ratio, 1e-4)
}

func TestNewProblemRejectsInvalidInput(t *testing.T) {
	fx := newFixture(t)

	withNaN := mat.DenseCopyOf(fx.datum)
	withNaN.Set(3, 1, math.NaN())
	zeroSigma := mat.DenseCopyOf(fx.sigma)
	zeroSigma.Set(0, 0, 0)
	infSigma := mat.DenseCopyOf(fx.sigma)
	infSigma.Set(5, 2, math.Inf(1))
	badBase := append([]float64(nil), fx.base...)
	badBase[7] = -1

	cases := []struct {
		name  string
		datum mat.Matrix
		sigma mat.Matrix
		base  []float64
		resp  Response
	}{
		{"nan datum", withNaN, fx.sigma, fx.base, fx.model},
		{"zero sigma", fx.datum, zeroSigma, fx.base, fx.model},
		{"infinite sigma", fx.datum, infSigma, fx.base, fx.model},
		{"negative base", fx.datum, fx.sigma, badBase, fx.model},
		{"short base", fx.datum, fx.sigma, fx.base[:10], fx.model},
		{"datum shape", mat.NewDense(3, 4, nil), fx.sigma, fx.base, fx.model},
		{"sigma shape", fx.datum, mat.NewDense(128, 3, nil), fx.base, fx.model},
		{"nil response", fx.datum, fx.sigma, fx.base, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProblem(tc.datum, tc.sigma, tc.base, tc.resp)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestNewProblemCopiesInputs(t *testing.T) {
	fx := newFixture(t)
	datum := mat.DenseCopyOf(fx.datum)
	base := append([]float64(nil), fx.base...)

	p, err := NewProblem(datum, fx.sigma, base, fx.model)
	require.NoError(t, err)

	datum.Set(0, 0, 1e9)
	base[0] = 1e9
	assert.Equal(t, fx.datum.At(0, 0), p.Datum().At(0, 0))
	assert.Equal(t, fx.base[0], p.Base()[0])
}

func TestNewIteratorRejectsInvalidStart(t *testing.T) {
	fx := newFixture(t)
	problem := fx.problem(t)

	image := append([]float64(nil), fx.truth...)
	image[3] = 0
	_, err := NewIterator(problem, DefaultOptions(), WarmStart(image))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewIterator(problem, DefaultOptions(), WarmStart(fx.truth[:5]))
	assert.ErrorIs(t, err, ErrInvalidInput)

	opts := DefaultOptions()
	opts.MaxIter = 0
	_, err = NewIterator(problem, opts, ColdStart())
	assert.ErrorIs(t, err, ErrInvalidInput)

	opts = DefaultOptions()
	opts.Blank = -2
	_, err = NewIterator(problem, opts, ColdStart())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestInitialState(t *testing.T) {
	fx := newFixture(t)
	it, err := NewIterator(fx.problem(t), DefaultOptions(), ColdStart())
	require.NoError(t, err)

	st := it.State()
	assert.Equal(t, StateInit, st.State)
	assert.Equal(t, 0, st.Iteration)
	assert.Equal(t, float64(initialTest), st.Test)
	assert.Equal(t, 2*st.ChiZero, st.ChiSq)
	assert.Equal(t, float64(128*4), st.ChiZero)
	assert.InDelta(t, fx.base[0], st.Blank, 1e-12)
	assert.InDelta(t, floats.Sum(fx.base), st.Entropy, 1e-9, "entropy is maximal at the prior")
}

// poisonedResponse returns NaN from its adjoint once armed.
type poisonedResponse struct {
	*response.Model
	armed bool
}

func (p *poisonedResponse) Adjoint(dst []float64, y mat.Matrix) {
	p.Model.Adjoint(dst, y)
	if p.armed {
		dst[len(dst)/2] = math.NaN()
	}
}

func TestDivergenceLeavesImageUntouched(t *testing.T) {
	fx := newFixture(t)
	resp := &poisonedResponse{Model: fx.model}

	problem, err := NewProblem(fx.datum, fx.sigma, fx.base, resp)
	require.NoError(t, err)
	it, err := NewIterator(problem, DefaultOptions(), ColdStart())
	require.NoError(t, err)

	require.NoError(t, it.Step())
	before := it.Image()

	resp.armed = true
	err = it.Step()
	require.ErrorIs(t, err, ErrNumericalDivergence)

	var div *DivergenceError
	require.True(t, errors.As(err, &div))
	assert.Equal(t, 2, div.Iteration)
	assert.Equal(t, "chi-squared gradient", div.Quantity)
	assert.Equal(t, before, it.Image())
	assert.Equal(t, 1, it.State().Iteration)
}

func TestStepAfterTerminalIsNoop(t *testing.T) {
	fx := newFixture(t)
	it, err := NewIterator(fx.problem(t), DefaultOptions(), ColdStart())
	require.NoError(t, err)
	res, err := it.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, it.Step())
	assert.Equal(t, res.Final, it.State())
}
