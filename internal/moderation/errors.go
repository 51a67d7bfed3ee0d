package moderation

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("moderation: not found")
	// ErrConflict is returned when a stored subject changed under a write, or a ban
	// request was already reviewed.
	ErrConflict = errors.New("moderation: conflict")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
