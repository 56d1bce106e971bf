package libcluster

import "errors"

var (
	ErrEmptySet       = errors.New("Empty training set")
	ErrNotFitted      = errors.New("You need to fit the model first")
	ErrZeroIterations = errors.New("Number of iterations cannot be less than 1")
	ErrZeroClusters   = errors.New("Number of clusters cannot be less than 1")
	ErrBadPrior       = errors.New("Prior concentration must be positive")
	ErrBadWidth       = errors.New("Prior cluster width must be positive")
	ErrBadTolerance   = errors.New("Convergence tolerance must be positive")
	ErrGroupIndex     = errors.New("Group index out of range")
	ErrInvalidRange   = errors.New("Invalid column range")
)
