package response

import (
	"fmt"
	"math/bits"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// BackendKind names a synthesis backend.
type BackendKind string

const (
	// BackendGonum uses gonum's dsp/fourier complex FFT.
	BackendGonum BackendKind = "gonum"

	// BackendAlgoFFT uses the algo-fft planner.
	BackendAlgoFFT BackendKind = "algofft"
)

// Backend computes the unnormalized synthesis
//
//	dst[t] = Σ_k src[k]·exp(+2πi·k·t/N)
//
// for sequences of the backend length N. The kernel is symmetric in k and t,
// which is what lets the forward and adjoint responses share one backend.
//
// Implementations keep scratch memory and are not safe for concurrent use.
type Backend interface {
	Len() int
	Synthesize(dst, src []complex128) error
}

// NewBackend creates a synthesis backend of the given kind and length.
// The length must be a power of two.
func NewBackend(kind BackendKind, size int) (Backend, error) {
	if size < 2 || bits.OnesCount(uint(size)) != 1 {
		return nil, fmt.Errorf("%w: fft size %d is not a power of two", ErrInvalidParams, size)
	}

	switch kind {
	case BackendGonum, "":
		return &gonumBackend{
			fft:     fourier.NewCmplxFFT(size),
			scratch: make([]complex128, size),
		}, nil
	case BackendAlgoFFT:
		plan, err := algofft.NewPlan64(size)
		if err != nil {
			return nil, fmt.Errorf("response: failed to create FFT plan: %w", err)
		}
		return &algofftBackend{
			plan:    plan,
			scratch: make([]complex128, size),
			out:     make([]complex128, size),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidParams, kind)
	}
}

// gonumBackend evaluates the synthesis as conj(FFT(conj(x))) with gonum's
// unnormalized forward transform.
type gonumBackend struct {
	fft     *fourier.CmplxFFT
	scratch []complex128
}

func (b *gonumBackend) Len() int { return len(b.scratch) }

func (b *gonumBackend) Synthesize(dst, src []complex128) error {
	if len(dst) != len(b.scratch) || len(src) != len(b.scratch) {
		return fmt.Errorf("response: synthesis length mismatch: dst=%d src=%d fft=%d",
			len(dst), len(src), len(b.scratch))
	}
	for i, v := range src {
		b.scratch[i] = cmplx.Conj(v)
	}
	b.fft.Coefficients(dst, b.scratch)
	for i, v := range dst {
		dst[i] = cmplx.Conj(v)
	}
	return nil
}

// algofftBackend is the same synthesis on an algo-fft plan.
type algofftBackend struct {
	plan    *algofft.Plan[complex128]
	scratch []complex128
	out     []complex128
}

func (b *algofftBackend) Len() int { return len(b.scratch) }

func (b *algofftBackend) Synthesize(dst, src []complex128) error {
	if len(dst) != len(b.scratch) || len(src) != len(b.scratch) {
		return fmt.Errorf("response: synthesis length mismatch: dst=%d src=%d fft=%d",
			len(dst), len(src), len(b.scratch))
	}
	for i, v := range src {
		b.scratch[i] = cmplx.Conj(v)
	}
	if err := b.plan.Forward(b.out, b.scratch); err != nil {
		return fmt.Errorf("response: forward FFT failed: %w", err)
	}
	for i, v := range b.out {
		dst[i] = cmplx.Conj(v)
	}
	return nil
}
