// Package apperr defines the structured error type shared by the RSVP core
// and its transports. Every failure carries a stable Kind (the taxonomy
// callers branch on) and a Code (the specific reason), plus a human-readable
// message.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the coarse error category.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindCredential Kind = "credential"
	KindDependency Kind = "dependency"
	KindAuth       Kind = "unauthorized"
	KindInternal   Kind = "internal"
)

// Code is the machine-readable reason within a Kind.
type Code string

const (
	CodeMissingFields      Code = "missing_fields"
	CodeInvalidInput       Code = "invalid_input"
	CodeDuplicatePhone     Code = "duplicate_phone"
	CodeCodeSpaceExhausted Code = "code_space_exhausted"
	CodeNotFound           Code = "not_found"
	CodeAlreadyCheckedIn   Code = "already_checked_in"
	CodeNotAttending       Code = "not_attending"
	CodeMalformed          Code = "malformed"
	CodeMissingField       Code = "missing_field"
	CodeBadSignature       Code = "bad_signature"
	CodeExpired            Code = "expired"
	CodeStoreUnavailable   Code = "store_unavailable"
	CodeUnauthorized       Code = "unauthorized"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code, or by kind when the
// target carries no code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return t.Kind != "" && e.Kind == t.Kind
}

// New creates a domain error.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Dependency wraps a collaborator failure (store, broker) for this request.
func Dependency(message string, cause error) *Error {
	return Wrap(KindDependency, CodeStoreUnavailable, message, cause)
}

// With returns a copy of e carrying a more specific message. The copy still
// matches e under errors.Is.
func (e *Error) With(message string) *Error {
	cp := *e
	cp.Message = message
	return &cp
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status code transports should use.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindCredential:
		return http.StatusBadRequest
	case KindConflict, KindState:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuth:
		return http.StatusUnauthorized
	case KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
