// Package apperr defines the typed error kinds the HTTP layer maps to
// status codes, keeping component code free of net/http concerns.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error for transport-layer mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// Error wraps an underlying cause with a Kind the transport layer inspects.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(msg string) *Error { return newErr(KindValidation, msg) }
func Auth(msg string) *Error       { return newErr(KindAuth, msg) }
func NotFound(msg string) *Error   { return newErr(KindNotFound, msg) }
func Conflict(msg string) *Error   { return newErr(KindConflict, msg) }

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// isn't an *Error (or wraps one).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
