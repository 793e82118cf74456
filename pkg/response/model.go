// Package response implements the linear instrument response that maps a
// reconstructed frequency spectrum to predicted per-group muon asymmetry
// histograms, together with its exact adjoint.
//
// For an image f of n frequency bins the prediction is
//
//	w_t        = Σ_k p_k·f_k·exp(+2πi·k·t/N)
//	pred[t, g] = e_t·(a_g·Re w_t + b_g·Im w_t)
//
// where p_k is the pulse-shape attenuation, e_t the time efficiency and
// (a_g, b_g) = amplitude·(cos φ_g, sin φ_g) the detector group phase.
package response

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Errors returned by the response package.
var (
	ErrInvalidParams = errors.New("response: invalid parameters")
	ErrImageLength   = errors.New("response: image length mismatch")
)

// Group is one detector grouping.
type Group struct {
	// Phase is the detector phase in radians.
	Phase float64

	// Amplitude scales the group's response. The zero value is treated as 1.
	Amplitude float64
}

// Params holds the parameters of a response model.
type Params struct {
	// ImageSize is the number of frequency bins n.
	ImageSize int

	// Points is the number of time bins per group.
	Points int

	// FFTSize is the synthesis length N. Zero picks the smallest power of two
	// not below max(ImageSize, Points).
	FFTSize int

	// TimeStep is the histogram bin width in µs.
	TimeStep float64

	// Groups lists the detector groups.
	Groups []Group

	// Efficiency is the per-time efficiency e_t. Nil means one everywhere.
	Efficiency []float64

	// Pulse is the pulse shape folded into the response.
	Pulse PulseShape

	// Backend selects the synthesis implementation.
	Backend BackendKind
}

// Model is the forward/adjoint instrument response. Its parameters are
// read-only after construction. A Model keeps scratch buffers and is not
// safe for concurrent use; independent reconstructions each build their own.
type Model struct {
	n, points, groups int
	dt                float64

	a, b []float64
	e    []float64
	p    []float64

	backend Backend
	in, out []complex128
}

// NewModel validates params and builds a response model.
func NewModel(params Params) (*Model, error) {
	if params.ImageSize <= 0 || params.Points <= 0 {
		return nil, fmt.Errorf("%w: image size %d and points %d must be positive",
			ErrInvalidParams, params.ImageSize, params.Points)
	}
	if len(params.Groups) == 0 {
		return nil, fmt.Errorf("%w: no detector groups", ErrInvalidParams)
	}
	if !(params.TimeStep > 0) || math.IsInf(params.TimeStep, 0) {
		return nil, fmt.Errorf("%w: time step %v must be positive", ErrInvalidParams, params.TimeStep)
	}

	size := params.FFTSize
	if size == 0 {
		size = nextPowerOf2(max(params.ImageSize, params.Points))
	}
	if size < params.ImageSize || size < params.Points {
		return nil, fmt.Errorf("%w: fft size %d shorter than image (%d) or data (%d)",
			ErrInvalidParams, size, params.ImageSize, params.Points)
	}
	backend, err := NewBackend(params.Backend, size)
	if err != nil {
		return nil, err
	}

	m := &Model{
		n:       params.ImageSize,
		points:  params.Points,
		groups:  len(params.Groups),
		dt:      params.TimeStep,
		a:       make([]float64, len(params.Groups)),
		b:       make([]float64, len(params.Groups)),
		backend: backend,
		in:      make([]complex128, size),
		out:     make([]complex128, size),
	}

	for g, grp := range params.Groups {
		amp := grp.Amplitude
		if amp == 0 {
			amp = 1
		}
		if !isFinite(amp) || !isFinite(grp.Phase) {
			return nil, fmt.Errorf("%w: group %d has non-finite phase or amplitude", ErrInvalidParams, g)
		}
		m.a[g] = amp * math.Cos(grp.Phase)
		m.b[g] = amp * math.Sin(grp.Phase)
	}

	if params.Efficiency != nil {
		if len(params.Efficiency) != params.Points {
			return nil, fmt.Errorf("%w: efficiency has %d entries, want %d",
				ErrInvalidParams, len(params.Efficiency), params.Points)
		}
		m.e = make([]float64, params.Points)
		for t, v := range params.Efficiency {
			if !isFinite(v) {
				return nil, fmt.Errorf("%w: efficiency[%d] is not finite", ErrInvalidParams, t)
			}
			m.e[t] = v
		}
	} else {
		m.e = DecayEfficiency(params.Points, params.TimeStep, 0)
	}

	m.p = params.Pulse.Attenuation(m.Frequencies())
	return m, nil
}

// Dims returns the image size n, the number of time points and the number
// of groups.
func (m *Model) Dims() (n, points, groups int) {
	return m.n, m.points, m.groups
}

// FFTSize returns the synthesis length N.
func (m *Model) FFTSize() int { return m.backend.Len() }

// TimeStep returns the histogram bin width in µs.
func (m *Model) TimeStep() float64 { return m.dt }

// Frequencies returns the frequency of each image bin in MHz, k/(N·dt).
func (m *Model) Frequencies() []float64 {
	fr := make([]float64, m.n)
	step := 1 / (float64(m.backend.Len()) * m.dt)
	for k := range fr {
		fr[k] = float64(k) * step
	}
	return fr
}

// Forward writes the predicted data for image into dst, which must be
// points × groups. Panics on a shape mismatch.
func (m *Model) Forward(dst *mat.Dense, image []float64) {
	if len(image) != m.n {
		panic(ErrImageLength)
	}
	if r, c := dst.Dims(); r != m.points || c != m.groups {
		panic(mat.ErrShape)
	}

	clear(m.in)
	for k, v := range image {
		m.in[k] = complex(m.p[k]*v, 0)
	}
	m.synthesize()

	for t := 0; t < m.points; t++ {
		re := m.e[t] * real(m.out[t])
		im := m.e[t] * imag(m.out[t])
		for g := 0; g < m.groups; g++ {
			dst.Set(t, g, m.a[g]*re+m.b[g]*im)
		}
	}
}

// ForwardImage allocates and returns the predicted data for image.
func (m *Model) ForwardImage(image []float64) *mat.Dense {
	dst := mat.NewDense(m.points, m.groups, nil)
	m.Forward(dst, image)
	return dst
}

// Adjoint writes the image-space adjoint of the data array y into dst,
// which must have length n. Panics on a shape mismatch.
func (m *Model) Adjoint(dst []float64, y mat.Matrix) {
	if len(dst) != m.n {
		panic(ErrImageLength)
	}
	if r, c := y.Dims(); r != m.points || c != m.groups {
		panic(mat.ErrShape)
	}

	clear(m.in)
	for t := 0; t < m.points; t++ {
		var u, v float64
		for g := 0; g < m.groups; g++ {
			yv := y.At(t, g)
			u += m.a[g] * yv
			v += m.b[g] * yv
		}
		m.in[t] = complex(m.e[t]*u, -m.e[t]*v)
	}
	m.synthesize()

	for k := range dst {
		dst[k] = m.p[k] * real(m.out[k])
	}
}

// AdjointData allocates and returns the adjoint of y.
func (m *Model) AdjointData(y mat.Matrix) []float64 {
	dst := make([]float64, m.n)
	m.Adjoint(dst, y)
	return dst
}

func (m *Model) synthesize() {
	// Buffer lengths are fixed at construction, so a failure here is a bug.
	if err := m.backend.Synthesize(m.out, m.in); err != nil {
		panic(err)
	}
}

func nextPowerOf2(n int) int {
	p := 2
	for p < n {
		p <<= 1
	}
	return p
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
