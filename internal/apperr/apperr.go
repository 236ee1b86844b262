// Package apperr defines the error taxonomy shared by services and HTTP handlers.
package apperr

import (
	"errors"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindAuthorization
	KindExternalProvider
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAuthorization:
		return "authorization"
	case KindExternalProvider:
		return "external_provider"
	default:
		return "internal"
	}
}

// Error carries a user-facing message. Err holds the diagnostic cause and is
// never rendered to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

// Provider wraps a payment or network failure. The caller only sees msg.
func Provider(msg string, err error) error {
	return &Error{Kind: KindExternalProvider, Message: msg, Err: err}
}

func Internal(err error) error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// KindOf reports the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
