package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies recoverable requester failures so stages can decide
// what to surface to the user.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindAuth           ErrorKind = "auth"
	KindBadRequest     ErrorKind = "bad_request"
	KindRateLimit      ErrorKind = "rate_limit"
	KindContextTooLong ErrorKind = "context_too_long"
	KindNotFound       ErrorKind = "not_found"
)

// Error is a tagged requester error. Requesters raise it for recoverable
// conditions; the runner lets it propagate and the processor converts it to
// an interrupt.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("requester %s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("requester %s: %v", e.Kind, e.Cause)
	}
	return "requester " + string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a tagged requester error.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the error kind, or "" when err is not a requester error.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// ErrModelNotFound is returned when a model UUID resolves to nothing.
var ErrModelNotFound = errors.New("model not found")
