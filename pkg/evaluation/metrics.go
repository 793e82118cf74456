// Package evaluation scores reconstructed spectra against a known truth and
// summarizes the residuals of a fit.
package evaluation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrLengthMismatch is returned when the compared spectra differ in size.
var ErrLengthMismatch = errors.New("evaluation: length mismatch")

// maskThreshold matches the no-data sentinel of the reconstruction.
const maskThreshold = 1e14

// SpectrumMetrics holds the quality of a reconstruction against the spectrum
// it was simulated from.
type SpectrumMetrics struct {
	// RMSE is the root mean square difference of the intensities.
	RMSE float64

	// MaxRelativeError is max|f - f*| / max f*.
	MaxRelativeError float64

	// Correlation is the Pearson correlation of the two spectra.
	Correlation float64

	// MutualInformation is the Gaussian estimate -½·log(1 - ρ²).
	MutualInformation float64

	// SSIM is the global structural similarity with the truth's maximum as
	// dynamic range. 1 means identical.
	SSIM float64

	// EntropyDiff is the difference of the Shannon entropies (bits) of the
	// two spectra read as distributions.
	EntropyDiff float64

	// PeakShift is the distance in bins between the strongest lines.
	PeakShift int

	// Accuracy combines SSIM and the relative error into a percentage.
	Accuracy float64
}

// CompareSpectra scores recon against truth.
func CompareSpectra(truth, recon []float64) (SpectrumMetrics, error) {
	var m SpectrumMetrics
	if len(truth) != len(recon) {
		return m, fmt.Errorf("%w: truth has %d bins, reconstruction %d", ErrLengthMismatch, len(truth), len(recon))
	}
	if len(truth) == 0 {
		return m, fmt.Errorf("%w: empty spectra", ErrLengthMismatch)
	}

	diff := make([]float64, len(truth))
	floats.SubTo(diff, recon, truth)
	m.RMSE = floats.Norm(diff, 2) / math.Sqrt(float64(len(diff)))
	if peak := floats.Max(truth); peak > 0 {
		m.MaxRelativeError = math.Max(floats.Max(diff), -floats.Min(diff)) / peak
	}

	if stat.Variance(truth, nil) > 0 && stat.Variance(recon, nil) > 0 {
		m.Correlation = stat.Correlation(truth, recon, nil)
		if r2 := m.Correlation * m.Correlation; r2 < 1 {
			m.MutualInformation = -0.5 * math.Log(1-r2)
		} else {
			m.MutualInformation = math.Inf(1)
		}
	}

	m.SSIM = structuralSimilarity(truth, recon)
	m.EntropyDiff = math.Abs(ShannonEntropy(truth) - ShannonEntropy(recon))
	m.PeakShift = floats.MaxIdx(recon) - floats.MaxIdx(truth)
	if m.PeakShift < 0 {
		m.PeakShift = -m.PeakShift
	}
	m.Accuracy = 100 * math.Max(0, m.SSIM) * math.Max(0, 1-m.MaxRelativeError)
	return m, nil
}

// structuralSimilarity evaluates the SSIM formula over the whole spectrum.
func structuralSimilarity(x, y []float64) float64 {
	const k1, k2 = 0.01, 0.03
	l := floats.Max(x)
	if l <= 0 {
		l = 1
	}
	c1 := (k1 * l) * (k1 * l)
	c2 := (k2 * l) * (k2 * l)

	muX, muY := stat.Mean(x, nil), stat.Mean(y, nil)
	varX, varY := stat.Variance(x, nil), stat.Variance(y, nil)
	cov := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*cov + c2)
	den := (muX*muX + muY*muY + c1) * (varX + varY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// ShannonEntropy returns -Σ p·log₂ p of the spectrum normalized to unit sum.
// Non-positive entries carry no weight.
func ShannonEntropy(spectrum []float64) float64 {
	var total float64
	for _, v := range spectrum {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, v := range spectrum {
		if v > 0 {
			p := v / total
			h -= p * math.Log2(p)
		}
	}
	return h
}

// ResidualStats summarizes the normalized residuals (pred - datum)/sigma
// over the unmasked bins.
type ResidualStats struct {
	Points   int
	Mean     float64
	StdDev   float64
	ChiSq    float64
	MaxAbs   float64
	ChiRatio float64
}

// Residuals computes the residual summary of a fit. pred, datum and sigma
// must share a shape.
func Residuals(pred, datum, sigma mat.Matrix) (ResidualStats, error) {
	var rs ResidualStats
	r, c := pred.Dims()
	if dr, dc := datum.Dims(); dr != r || dc != c {
		return rs, fmt.Errorf("%w: prediction %d×%d, data %d×%d", ErrLengthMismatch, r, c, dr, dc)
	}
	if sr, sc := sigma.Dims(); sr != r || sc != c {
		return rs, fmt.Errorf("%w: prediction %d×%d, sigma %d×%d", ErrLengthMismatch, r, c, sr, sc)
	}

	pulls := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s := sigma.At(i, j)
			if s >= maskThreshold {
				continue
			}
			pulls = append(pulls, (pred.At(i, j)-datum.At(i, j))/s)
		}
	}
	rs.Points = len(pulls)
	if rs.Points == 0 {
		return rs, nil
	}

	rs.ChiSq = floats.Dot(pulls, pulls)
	rs.ChiRatio = rs.ChiSq / float64(rs.Points)
	rs.MaxAbs = math.Max(floats.Max(pulls), -floats.Min(pulls))
	if rs.Points > 1 {
		rs.Mean, rs.StdDev = stat.MeanStdDev(pulls, nil)
	} else {
		rs.Mean = pulls[0]
	}
	return rs, nil
}
