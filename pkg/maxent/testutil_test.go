package maxent

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"musrmaxent/pkg/response"
)

// fixture is a noiseless precession dataset with a known spectrum.
type fixture struct {
	model *response.Model
	truth []float64
	datum *mat.Dense
	sigma *mat.Dense
	base  []float64
}

func twoLineSpectrum(n int) []float64 {
	f := make([]float64, n)
	for k := range f {
		x1 := (float64(k) - 20) / 4
		x2 := (float64(k) - 42) / 6
		f[k] = 1 + 3*math.Exp(-0.5*x1*x1) + 1.5*math.Exp(-0.5*x2*x2)
	}
	return f
}

func quadrature(n int) []response.Group {
	groups := make([]response.Group, n)
	for g := range groups {
		groups[g] = response.Group{Phase: 2 * math.Pi * float64(g) / float64(n)}
	}
	return groups
}

func newFixture(t testing.TB) fixture {
	t.Helper()
	const n, points = 64, 128

	model, err := response.NewModel(response.Params{
		ImageSize: n,
		Points:    points,
		TimeStep:  0.016,
		Groups:    quadrature(4),
	})
	require.NoError(t, err)

	truth := twoLineSpectrum(n)
	datum := model.ForwardImage(truth)

	raw := datum.RawMatrix().Data
	rms := math.Sqrt(floats.Dot(raw, raw) / float64(len(raw)))
	_, groups := datum.Dims()
	sigma := mat.NewDense(points, groups, nil)
	sigma.Apply(func(_, _ int, _ float64) float64 { return 0.01 * rms }, sigma)

	return fixture{
		model: model,
		truth: truth,
		datum: datum,
		sigma: sigma,
		base:  UniformPrior(n, floats.Sum(truth)/n),
	}
}

func (fx fixture) problem(t testing.TB) *Problem {
	t.Helper()
	p, err := NewProblem(fx.datum, fx.sigma, fx.base, fx.model)
	require.NoError(t, err)
	return p
}

func maxRelativeError(got, want []float64) float64 {
	var worst float64
	for i := range got {
		worst = math.Max(worst, math.Abs(got[i]-want[i]))
	}
	return worst / floats.Max(want)
}
