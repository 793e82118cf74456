// Package synth simulates muon precession spectra and the noisy grouped
// histograms they produce through a response model.
package synth

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"musrmaxent/internal/models"
	"musrmaxent/pkg/maxent"
)

// ErrInvalidOptions is returned for unusable simulation settings.
var ErrInvalidOptions = errors.New("synth: invalid options")

// Line is one Gaussian precession line.
type Line struct {
	// Frequency is the line centre in MHz.
	Frequency float64

	// Amplitude is the peak height above background.
	Amplitude float64

	// Width is the Gaussian standard deviation in MHz.
	Width float64
}

// Spectrum is a sum of lines on a flat background.
type Spectrum struct {
	Background float64
	Lines      []Line
}

// Sample evaluates the spectrum at each frequency.
func (s Spectrum) Sample(freqs []float64) []float64 {
	out := make([]float64, len(freqs))
	for k, nu := range freqs {
		v := s.Background
		for _, l := range s.Lines {
			x := (nu - l.Frequency) / l.Width
			v += l.Amplitude * math.Exp(-0.5*x*x)
		}
		out[k] = v
	}
	return out
}

// Forwarder is the part of a response model needed to simulate data.
type Forwarder interface {
	Dims() (n, points, groups int)
	Forward(dst *mat.Dense, image []float64)
	TimeStep() float64
}

// Options controls the noise and masking of a simulated dataset.
type Options struct {
	// NoiseFraction sets the uncertainty at t = 0 as a fraction of the RMS
	// of the clean prediction. Zero gives noiseless data.
	NoiseFraction float64

	// Lifetime, when positive, grows the uncertainty as exp(t/2τ), the
	// counting statistics of a decaying muon population.
	Lifetime float64

	// MaskedPoints leading time bins are marked as carrying no data.
	MaskedPoints int

	// Seed seeds the noise source.
	Seed uint64
}

// Simulate predicts the data of truth through model and adds Gaussian noise
// of the reported uncertainty. A zero NoiseFraction yields noiseless data
// with uncertainties at 1% of the RMS.
func Simulate(model Forwarder, truth []float64, opts Options) (*models.Dataset, error) {
	n, points, groups := model.Dims()
	if len(truth) != n {
		return nil, fmt.Errorf("%w: spectrum has %d bins, model expects %d", ErrInvalidOptions, len(truth), n)
	}
	if opts.NoiseFraction < 0 || math.IsNaN(opts.NoiseFraction) {
		return nil, fmt.Errorf("%w: noise fraction %v", ErrInvalidOptions, opts.NoiseFraction)
	}
	if opts.MaskedPoints < 0 || opts.MaskedPoints >= points {
		return nil, fmt.Errorf("%w: %d masked points of %d", ErrInvalidOptions, opts.MaskedPoints, points)
	}

	datum := mat.NewDense(points, groups, nil)
	model.Forward(datum, truth)

	raw := datum.RawMatrix().Data
	rms := math.Sqrt(floats.Dot(raw, raw) / float64(len(raw)))
	if rms == 0 {
		return nil, fmt.Errorf("%w: spectrum predicts no signal", ErrInvalidOptions)
	}

	fraction := opts.NoiseFraction
	if fraction == 0 {
		fraction = 0.01
	}
	sigma := mat.NewDense(points, groups, nil)
	dt := model.TimeStep()
	for t := 0; t < points; t++ {
		s := fraction * rms
		if opts.Lifetime > 0 {
			s *= math.Exp(float64(t) * dt / (2 * opts.Lifetime))
		}
		for g := 0; g < groups; g++ {
			sigma.Set(t, g, s)
		}
	}

	if opts.NoiseFraction > 0 {
		noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(opts.Seed)}
		for t := 0; t < points; t++ {
			for g := 0; g < groups; g++ {
				datum.Set(t, g, datum.At(t, g)+sigma.At(t, g)*noise.Rand())
			}
		}
	}

	for t := 0; t < opts.MaskedPoints; t++ {
		for g := 0; g < groups; g++ {
			datum.Set(t, g, 0)
		}
	}
	maxent.MaskBins(sigma, leading(opts.MaskedPoints)...)

	return &models.Dataset{
		ID:       uuid.NewString(),
		Datum:    datum,
		Sigma:    sigma,
		TimeStep: dt,
		Seed:     opts.Seed,
		Truth:    append([]float64(nil), truth...),
	}, nil
}

func leading(k int) []int {
	bins := make([]int, k)
	for i := range bins {
		bins[i] = i
	}
	return bins
}
