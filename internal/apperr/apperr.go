// Package apperr defines the closed set of error kinds the service reports to
// clients. Stores and services produce these values; the HTTP layer maps them
// to status codes without inspecting driver specific errors.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindConflict
	KindRateLimited
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// AuthReason distinguishes why a credential was rejected.
type AuthReason string

const (
	AuthMissing AuthReason = "missing"
	AuthInvalid AuthReason = "invalid"
	AuthExpired AuthReason = "expired"
)

// Error is the tagged error carried from services to transports.
type Error struct {
	Kind    Kind
	Message string
	Reason  AuthReason // only set for KindAuth
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports missing or malformed input.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Validationf is Validation with formatting.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown user, conversation or file.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict reports a uniqueness violation such as a duplicate registration.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Auth reports a rejected credential.
func Auth(reason AuthReason, msg string, err error) *Error {
	return &Error{Kind: KindAuth, Reason: reason, Message: msg, Err: err}
}

// RateLimited reports a throttled caller.
func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Message: msg}
}

// Storage wraps a persistence failure.
func Storage(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
