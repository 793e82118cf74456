package maxent

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports inputs rejected before any iteration runs.
	ErrInvalidInput = errors.New("maxent: invalid input")

	// ErrNumericalDivergence reports a non-finite value detected mid-iteration.
	ErrNumericalDivergence = errors.New("maxent: numerical divergence")

	// ErrNotConverged is returned alongside a valid Result when the iteration
	// limit was reached before the convergence test passed.
	ErrNotConverged = errors.New("maxent: iteration limit reached without convergence")
)

// DivergenceError identifies where a non-finite value appeared.
type DivergenceError struct {
	Iteration int
	Quantity  string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("maxent: non-finite %s at iteration %d", e.Quantity, e.Iteration)
}

func (e *DivergenceError) Unwrap() error { return ErrNumericalDivergence }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
