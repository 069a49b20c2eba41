// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind int

const (
	// KindValidation is bad user input. Reported inline, never retried.
	KindValidation Kind = iota + 1
	// KindAuth covers duplicate registration and bad credentials.
	KindAuth
	// KindTransient is a network or schema hiccup that may succeed later.
	KindTransient
	// KindConflict is a state conflict: not host, game not found, gates not met.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a KindValidation error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Auth builds a KindAuth error.
func Auth(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

// Conflict builds a KindConflict error.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Transient wraps err as a KindTransient error.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// Wrap attaches a cause to a sentinel while keeping errors.Is(result, sentinel) true.
func Wrap(sentinel *Error, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or 0 if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the user-facing message for err. Unclassified errors get a
// generic retry-later message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Something went wrong. Please try again later."
}
