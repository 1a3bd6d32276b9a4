package domain

import "errors"

// Error taxonomy surfaced to API clients. Storage failures that do not match
// any of these are treated as internal errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid order state")
	ErrValidation   = errors.New("invalid input")
)
