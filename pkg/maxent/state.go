package maxent

import (
	"fmt"
	"math"
)

// State is the iterator's position in its life cycle.
type State int

const (
	StateInit State = iota
	StateIterating
	StateConverged
	StateMaxIterReached
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateMaxIterReached:
		return "max-iter-reached"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further passes will run.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateMaxIterReached
}

// IterationState is the scalar state carried between passes.
type IterationState struct {
	State State

	// Iteration is the pass counter. A warm start begins at 1.
	Iteration int

	ChiSq     float64
	ChiTarget float64
	ChiZero   float64

	// Test is the gradient misalignment statistic of the last pass,
	// sqrt(½|1 - cos θ|) between the entropy and chi-squared gradients.
	Test float64

	Entropy float64
	Sum     float64
	Blank   float64

	// Factor is the accumulated uncertainty scale and FacFake its square,
	// the equivalent reduction in effective event count.
	Factor  float64
	FacFake float64
}

// ChiRatio returns chisq/chizer, or zero when no bin carries data.
func (s IterationState) ChiRatio() float64 {
	if s.ChiZero == 0 {
		return 0
	}
	return s.ChiSq / s.ChiZero
}

func (s IterationState) chiString() string {
	r := s.ChiRatio()
	if math.Abs(r) >= 1e4 {
		return fmt.Sprintf("%.4e", r)
	}
	return fmt.Sprintf("%.4f", r)
}
