package models

import (
	"gonum.org/v1/gonum/mat"
)

// Dataset represents grouped muon asymmetry histograms prepared for
// reconstruction
type Dataset struct {
	// ID identifies the dataset in logs and batch results
	ID string

	// Datum holds the measured asymmetry, one row per time bin and one
	// column per detector group
	Datum *mat.Dense

	// Sigma holds the per-bin uncertainty of Datum. Bins without data carry
	// the masked sentinel
	Sigma *mat.Dense

	// TimeStep is the histogram bin width in µs
	TimeStep float64

	// Seed is the noise seed the dataset was simulated with
	Seed uint64

	// Truth is the spectrum the dataset was simulated from, nil for
	// measured data
	Truth []float64
}

// Dims returns the number of time bins and detector groups
func (d *Dataset) Dims() (points, groups int) {
	return d.Datum.Dims()
}

// Spectrum represents a frequency spectrum on a uniform grid
type Spectrum struct {
	// Frequencies is the centre of each bin in MHz
	Frequencies []float64 `yaml:"frequencies"`

	// Intensity is the spectral weight of each bin
	Intensity []float64 `yaml:"intensity"`
}

// Peak returns the frequency and intensity of the strongest bin
func (s Spectrum) Peak() (frequency, intensity float64) {
	best := -1
	for i, v := range s.Intensity {
		if best < 0 || v > s.Intensity[best] {
			best = i
		}
	}
	if best < 0 {
		return 0, 0
	}
	return s.Frequencies[best], s.Intensity[best]
}
