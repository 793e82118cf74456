package response

import "math"

// PulseShape describes the time structure of the muon pulse. A finite pulse
// smears the arrival times, which attenuates high precession frequencies.
type PulseShape struct {
	// Width is the Gaussian standard deviation of a single pulse in µs.
	// Zero means an ideal (delta) pulse.
	Width float64

	// Separation is the spacing of a double pulse in µs. Zero means a
	// single pulse.
	Separation float64
}

// Attenuation returns the linear response factor of the pulse at each
// frequency (MHz). The Fourier transform of a unit Gaussian of width σ is
// exp(-2π²σ²ν²); two equal pulses at ±Δ/2 add a factor cos(πνΔ).
func (s PulseShape) Attenuation(freqs []float64) []float64 {
	out := make([]float64, len(freqs))
	for k, nu := range freqs {
		v := 1.0
		if s.Width > 0 {
			x := math.Pi * s.Width * nu
			v *= math.Exp(-2 * x * x)
		}
		if s.Separation > 0 {
			v *= math.Cos(math.Pi * nu * s.Separation)
		}
		out[k] = v
	}
	return out
}

// DecayEfficiency returns exp(-t/lifetime) sampled at t = j·dt for
// j < points. It weights raw (not lifetime-corrected) histograms. A
// non-positive lifetime yields a flat efficiency of one.
func DecayEfficiency(points int, dt, lifetime float64) []float64 {
	e := make([]float64, points)
	for j := range e {
		if lifetime > 0 {
			e[j] = math.Exp(-float64(j) * dt / lifetime)
		} else {
			e[j] = 1
		}
	}
	return e
}
