package types

import "errors"

// Error taxonomy. Call sites wrap these with fmt.Errorf("%w: ...") and
// callers classify with errors.Is.
var (
	// ErrValidation marks malformed or missing input
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown id
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation the current state does not allow
	ErrConflict = errors.New("conflict")

	// ErrInsufficientCapacity marks an allocation that would drive a node's
	// free memory negative
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrInternal marks a persistence failure
	ErrInternal = errors.New("internal error")
)
