package maxent

import "math"

// Options controls one reconstruction.
type Options struct {
	// MaxIter is the number of passes after which the run stops unconverged.
	MaxIter int

	// SumFix holds the image total at its starting value.
	SumFix bool

	// RescaleSigma lets Move inflate the uncertainties when chi-squared
	// cannot reach its expected value.
	RescaleSigma bool

	// Blank is the entropy normalization. Zero means the mean of the prior.
	Blank float64

	// FloorFactor times Blank replaces image entries driven non-positive.
	FloorFactor float64

	// TestLimit bounds the gradient misalignment statistic at convergence.
	TestLimit float64

	// ChiLimit bounds |chisq/chizer - 1| at convergence.
	ChiLimit float64

	// MoveTolerance is the accuracy of the chi-squared ratio in the
	// multiplier search.
	MoveTolerance float64

	// MaxMoveLoops caps the multiplier bisection.
	MaxMoveLoops int

	// DistanceLimit caps the entropy-metric length of a step as a fraction
	// of Σf/blank.
	DistanceLimit float64

	// Progress, when set, is called after every pass with the iteration
	// index and the normalized chi-squared formatted for display.
	Progress func(iteration int, chisq string)

	// Monitor, when set, is called after every pass with the iteration state
	// and the current image. The image must not be modified or retained.
	Monitor func(state IterationState, image []float64)
}

// DefaultOptions returns the classical control constants.
func DefaultOptions() Options {
	return Options{
		MaxIter:       200,
		FloorFactor:   1e-3,
		TestLimit:     0.02,
		ChiLimit:      0.01,
		MoveTolerance: 1e-3,
		MaxMoveLoops:  500,
		DistanceLimit: 0.1,
	}
}

func (o Options) validate() error {
	switch {
	case o.MaxIter <= 0:
		return invalidf("max iterations %d must be positive", o.MaxIter)
	case o.Blank < 0 || math.IsNaN(o.Blank) || math.IsInf(o.Blank, 0):
		return invalidf("blank %v must be non-negative and finite", o.Blank)
	case !(o.FloorFactor > 0):
		return invalidf("floor factor %v must be positive", o.FloorFactor)
	case !(o.TestLimit > 0) || !(o.ChiLimit > 0):
		return invalidf("convergence limits (%v, %v) must be positive", o.TestLimit, o.ChiLimit)
	case !(o.MoveTolerance > 0) || o.MaxMoveLoops <= 0:
		return invalidf("move tolerance %v and loop limit %d must be positive", o.MoveTolerance, o.MaxMoveLoops)
	case !(o.DistanceLimit > 0):
		return invalidf("distance limit %v must be positive", o.DistanceLimit)
	}
	return nil
}

// Start selects how the image is seeded.
type Start struct {
	// Image is the previous iterate of a warm start. Nil means a cold start
	// from the prior.
	Image []float64
}

// ColdStart seeds the image from the prior.
func ColdStart() Start { return Start{} }

// WarmStart resumes from a previous image, which is copied.
func WarmStart(image []float64) Start {
	return Start{Image: append([]float64(nil), image...)}
}

// Warm reports whether s resumes from a previous image.
func (s Start) Warm() bool { return s.Image != nil }
