// Package apperr defines the error taxonomy shared by the account and
// resource services. Handlers translate these kinds into HTTP responses.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrAuth         = errors.New("authentication failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrBackend      = errors.New("backend failure")
)

// Error carries a caller-safe message next to its kind and optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Validation(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func Auth(msg string) error {
	return &Error{Kind: ErrAuth, Message: msg}
}

func Conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func InvalidToken(msg string) error {
	return &Error{Kind: ErrInvalidToken, Message: msg}
}

// Backend wraps an unexpected store or blob failure. op names the failed
// operation and ends up in logs only.
func Backend(op string, err error) error {
	return &Error{Kind: ErrBackend, Message: op, Err: err}
}

// Message returns the caller-safe message of err, or fallback when err is not
// an *Error.
func Message(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}
