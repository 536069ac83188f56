// internal/types/errors.go
package types

import "errors"

var (
	// ErrNotFound marks a referenced entity that does not exist. Tasks that
	// hit it fail immediately; it is never retried.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed or missing required input.
	ErrValidation = errors.New("validation failed")

	// ErrBudgetExceeded means the current turn alone no longer fits the
	// context budget after all history has been trimmed.
	ErrBudgetExceeded = errors.New("context budget exceeded")
)
