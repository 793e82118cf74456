// Package maxent implements the Skilling–Bryan maximum-entropy reconstruction
// of a positive image from noisy data observed through a linear response.
//
// One reconstruction is driven by an Iterator. Each pass builds the entropy
// and chi-squared gradients of the current image, spans a three-direction
// search subspace with them, models both functionals quadratically inside
// that subspace and takes the step chosen by Move:
//
//	problem, err := maxent.NewProblem(datum, sigma, base, model)
//	it, err := maxent.NewIterator(problem, maxent.DefaultOptions(), maxent.ColdStart())
//	res, err := it.Run(ctx)
//
// Run returns ErrNotConverged together with a usable Result when the
// iteration budget is exhausted. Invalid inputs and non-finite intermediates
// are reported as ErrInvalidInput and ErrNumericalDivergence respectively,
// and never produce a result.
package maxent
