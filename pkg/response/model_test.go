package response

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func quadratureGroups(n int) []Group {
	groups := make([]Group, n)
	for g := range groups {
		groups[g] = Group{Phase: 2 * math.Pi * float64(g) / float64(n), Amplitude: 1}
	}
	return groups
}

func randomImage(rng *rand.Rand, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	return x
}

func randomData(rng *rand.Rand, r, c int) *mat.Dense {
	y := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			y.Set(i, j, rng.NormFloat64())
		}
	}
	return y
}

// TestAdjointIdentity checks <Forward(x), y> == <x, Adjoint(y)> for every
// supported model configuration.
func TestAdjointIdentity(t *testing.T) {
	configs := []struct {
		name   string
		params Params
	}{
		{
			name: "plain",
			params: Params{
				ImageSize: 64, Points: 128, TimeStep: 0.016, Groups: quadratureGroups(4),
			},
		},
		{
			name: "pulse and decay",
			params: Params{
				ImageSize: 48, Points: 100, TimeStep: 0.016, Groups: quadratureGroups(3),
				Efficiency: DecayEfficiency(100, 0.016, 2.197),
				Pulse:      PulseShape{Width: 0.05, Separation: 0.32},
			},
		},
		{
			name: "image longer than data",
			params: Params{
				ImageSize: 200, Points: 50, FFTSize: 512, TimeStep: 0.01,
				Groups: []Group{{Phase: 0.3, Amplitude: 0.8}, {Phase: 1.9, Amplitude: 1.2}},
			},
		},
		{
			name: "algofft backend",
			params: Params{
				ImageSize: 64, Points: 128, TimeStep: 0.016, Groups: quadratureGroups(4),
				Pulse: PulseShape{Width: 0.08}, Backend: BackendAlgoFFT,
			},
		},
	}

	rng := rand.New(rand.NewPCG(7, 11))
	for _, tc := range configs {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewModel(tc.params)
			require.NoError(t, err)
			n, points, groups := m.Dims()

			for trial := 0; trial < 5; trial++ {
				x := randomImage(rng, n)
				y := randomData(rng, points, groups)

				fx := m.ForwardImage(x)
				lhs := mat.Sum(elementwise(fx, y))

				aty := m.AdjointData(y)
				rhs := 0.0
				for k := range x {
					rhs += x[k] * aty[k]
				}

				scale := math.Max(1, math.Abs(lhs))
				assert.InDelta(t, lhs, rhs, 1e-9*scale, "adjoint identity violated on trial %d", trial)
			}
		})
	}
}

func elementwise(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.MulElem(a, b)
	return &out
}

// TestBackendsAgree verifies the gonum and algo-fft backends produce the
// same synthesis.
func TestBackendsAgree(t *testing.T) {
	const size = 256
	g, err := NewBackend(BackendGonum, size)
	require.NoError(t, err)
	a, err := NewBackend(BackendAlgoFFT, size)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	src := make([]complex128, size)
	for i := range src {
		src[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}

	outG := make([]complex128, size)
	outA := make([]complex128, size)
	require.NoError(t, g.Synthesize(outG, src))
	require.NoError(t, a.Synthesize(outA, src))

	for i := range outG {
		assert.InDelta(t, real(outG[i]), real(outA[i]), 1e-9)
		assert.InDelta(t, imag(outG[i]), imag(outA[i]), 1e-9)
	}
}

// TestSynthesisSign checks the +2πi convention against a direct sum.
func TestSynthesisSign(t *testing.T) {
	const size = 16
	b, err := NewBackend(BackendGonum, size)
	require.NoError(t, err)

	src := make([]complex128, size)
	src[3] = 1
	dst := make([]complex128, size)
	require.NoError(t, b.Synthesize(dst, src))

	for j := range dst {
		theta := 2 * math.Pi * 3 * float64(j) / size
		assert.InDelta(t, math.Cos(theta), real(dst[j]), 1e-12)
		assert.InDelta(t, math.Sin(theta), imag(dst[j]), 1e-12)
	}
}

// TestForwardSingleLine verifies a one-bin image predicts a cosine in the
// zero-phase group and a sine in the quarter-phase group.
func TestForwardSingleLine(t *testing.T) {
	m, err := NewModel(Params{
		ImageSize: 32, Points: 64, TimeStep: 0.01,
		Groups: []Group{{Phase: 0}, {Phase: math.Pi / 2}},
	})
	require.NoError(t, err)
	require.Equal(t, 64, m.FFTSize())

	image := make([]float64, 32)
	image[5] = 2
	pred := m.ForwardImage(image)

	for j := 0; j < 64; j++ {
		theta := 2 * math.Pi * 5 * float64(j) / 64
		assert.InDelta(t, 2*math.Cos(theta), pred.At(j, 0), 1e-12)
		assert.InDelta(t, 2*math.Sin(theta), pred.At(j, 1), 1e-12)
	}
}

func TestForwardIsLinear(t *testing.T) {
	m, err := NewModel(Params{
		ImageSize: 40, Points: 90, TimeStep: 0.02, Groups: quadratureGroups(2),
		Pulse: PulseShape{Width: 0.1},
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(3, 4))
	x := randomImage(rng, 40)
	y := randomImage(rng, 40)
	combo := make([]float64, 40)
	for i := range combo {
		combo[i] = 2*x[i] - 0.5*y[i]
	}

	var want mat.Dense
	fx := m.ForwardImage(x)
	fy := m.ForwardImage(y)
	fx.Scale(2, fx)
	fy.Scale(-0.5, fy)
	want.Add(fx, fy)

	got := m.ForwardImage(combo)
	assert.True(t, mat.EqualApprox(&want, got, 1e-10), "forward response is not linear")
}

func TestNewModelValidation(t *testing.T) {
	base := Params{ImageSize: 16, Points: 32, TimeStep: 0.01, Groups: quadratureGroups(2)}

	cases := map[string]func(p *Params){
		"zero image":       func(p *Params) { p.ImageSize = 0 },
		"no groups":        func(p *Params) { p.Groups = nil },
		"bad time step":    func(p *Params) { p.TimeStep = 0 },
		"short fft":        func(p *Params) { p.FFTSize = 16 },
		"non power of two": func(p *Params) { p.FFTSize = 48 },
		"efficiency size":  func(p *Params) { p.Efficiency = []float64{1, 1} },
		"nan efficiency": func(p *Params) {
			p.Efficiency = DecayEfficiency(32, 0.01, 2.2)
			p.Efficiency[4] = math.NaN()
		},
		"unknown backend": func(p *Params) { p.Backend = "fftw" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			_, err := NewModel(p)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestForwardPanicsOnShapeMismatch(t *testing.T) {
	m, err := NewModel(Params{ImageSize: 8, Points: 8, TimeStep: 1, Groups: quadratureGroups(1)})
	require.NoError(t, err)

	assert.Panics(t, func() { m.ForwardImage(make([]float64, 7)) })
	assert.Panics(t, func() { m.Forward(mat.NewDense(8, 2, nil), make([]float64, 8)) })
	assert.Panics(t, func() { m.AdjointData(mat.NewDense(9, 1, nil)) })
}

func TestPulseAttenuation(t *testing.T) {
	freqs := []float64{0, 1, 2}

	flat := PulseShape{}.Attenuation(freqs)
	assert.Equal(t, []float64{1, 1, 1}, flat)

	gauss := PulseShape{Width: 0.1}.Attenuation(freqs)
	assert.InDelta(t, 1.0, gauss[0], 1e-15)
	assert.InDelta(t, math.Exp(-2*math.Pi*math.Pi*0.01), gauss[1], 1e-12)
	assert.Less(t, gauss[2], gauss[1])

	double := PulseShape{Separation: 0.5}.Attenuation(freqs)
	assert.InDelta(t, 0.0, double[1], 1e-12, "double pulse cancels at 1/(2Δ)")
	assert.InDelta(t, -1.0, double[2], 1e-12)
}

func TestDecayEfficiency(t *testing.T) {
	e := DecayEfficiency(3, 1, 2)
	assert.InDelta(t, 1.0, e[0], 1e-15)
	assert.InDelta(t, math.Exp(-0.5), e[1], 1e-15)
	assert.InDelta(t, math.Exp(-1), e[2], 1e-15)

	assert.Equal(t, []float64{1, 1}, DecayEfficiency(2, 1, 0))
}

func TestFrequencies(t *testing.T) {
	m, err := NewModel(Params{ImageSize: 4, Points: 8, FFTSize: 8, TimeStep: 0.5, Groups: quadratureGroups(1)})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.5, 0.75}, m.Frequencies(), 1e-15)
}
