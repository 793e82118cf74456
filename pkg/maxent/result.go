package maxent

import "gonum.org/v1/gonum/mat"

// Result is the outcome of a reconstruction.
type Result struct {
	Image []float64

	// Sigma is the final uncertainty array, rescaled when Move inflated it.
	Sigma *mat.Dense

	// Iterations is the number of passes run by this iterator.
	Iterations int

	// Final is the iteration state at termination.
	Final IterationState
}

// State returns the terminal state of the run.
func (r *Result) State() State { return r.Final.State }

// Converged reports whether the convergence test passed.
func (r *Result) Converged() bool { return r.Final.State == StateConverged }
