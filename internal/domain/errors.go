// Package domain holds the error kinds shared by the booking core.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error matches exactly one of them through errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")
	ErrState         = errors.New("invalid state")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("not authorized")
)

// Error is a caller-correctable failure of a booking or facility operation.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

// Is matches the error against its kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func newError(kind error, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(op, format string, args ...interface{}) error {
	return newError(ErrValidation, op, format, args...)
}

// Conflict reports an overlap with an approved booking.
func Conflict(op, format string, args ...interface{}) error {
	return newError(ErrConflict, op, format, args...)
}

// State reports an operation that is illegal for the current status.
func State(op, format string, args ...interface{}) error {
	return newError(ErrState, op, format, args...)
}

// NotFound reports an unknown identifier.
func NotFound(op, format string, args ...interface{}) error {
	return newError(ErrNotFound, op, format, args...)
}

// Authorization reports an actor lacking the required capability.
func Authorization(op, format string, args ...interface{}) error {
	return newError(ErrAuthorization, op, format, args...)
}

// KindOf returns the error kind of err, or nil for infrastructure failures.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrConflict, ErrState, ErrNotFound, ErrAuthorization} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
