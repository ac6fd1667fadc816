package schedule

import "errors"

// ErrNotFound covers both a missing registration and an ownership mismatch;
// callers get the same answer either way.
var ErrNotFound = errors.New("registration not found")

// ValidationError reports malformed input. Nothing is mutated.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(msg string) error { return &ValidationError{Msg: msg} }
