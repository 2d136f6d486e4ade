package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrPartialFailure    = errors.New("partial failure")

	// ErrInvalidTransition is a validation error raised when an entity is not
	// in the state an operation requires.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)
)
