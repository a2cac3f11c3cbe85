// Package domainerrors provides coded errors raised by domain services.
//
// Stores return pkg/platform/sentinel errors for infrastructure facts; services
// translate those into coded domain errors at the boundary so transports can map
// codes to status lines without string matching.
package domainerrors

import "errors"

// Code classifies a domain failure.
type Code string

const (
	// CodeNotFound: the referenced patient, merge target, or marker does not exist.
	CodeNotFound Code = "not_found"
	// CodeForbidden: the operation targets a record whose state disallows it
	// (inactive patient, merge into an inactive target).
	CodeForbidden Code = "forbidden"
	// CodeInvalidRequest: the request cannot be honored as stated (incomplete
	// catchment address, malformed merge directive, missing health id).
	CodeInvalidRequest Code = "invalid_request"
	// CodeConflict: concurrent state change detected by the store.
	CodeConflict Code = "conflict"
	// CodeStorage: the persistence layer failed executing an atomic batch. The
	// failure is propagated unchanged; no retry is attempted here.
	CodeStorage Code = "storage_failure"
	// CodeUnauthorized: missing, expired, or unverifiable credentials.
	CodeUnauthorized Code = "unauthorized"
	// CodeInternal: unexpected failure with no better classification.
	CodeInternal Code = "internal"
)

// Error carries a code plus a human-readable message. The wrapped cause, when
// present, is preserved for errors.Is / errors.As chains.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a coded error around an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the code from err, or "" when err is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
