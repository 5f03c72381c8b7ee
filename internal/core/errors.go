package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies business failures so the transport adapter can map
// them to a status without string matching.
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindPrecondition      ErrorKind = "PRECONDITION"
	KindConflict          ErrorKind = "CONFLICT"
	KindImbalanced        ErrorKind = "IMBALANCED"
	KindSignMismatch      ErrorKind = "SIGN_MISMATCH"
	KindMissingConfig     ErrorKind = "MISSING_CONFIG"
	KindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	KindPermissionDenied  ErrorKind = "PERMISSION_DENIED"
	KindUpstreamFailure   ErrorKind = "UPSTREAM_FAILURE"
)

// Error is a domain failure. Details carries structured payloads such as
// 3-way-match hold flags so callers can surface them verbatim.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a domain error with a formatted message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// EWrap builds a domain error wrapping an underlying cause.
func EWrap(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// EDetails attaches a structured payload to a domain error.
func EDetails(kind ErrorKind, details map[string]any, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

// KindOf returns the ErrorKind carried by err, walking the wrap chain.
// Unclassified errors report as empty string.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// DetailsOf returns the structured details of err, if any.
func DetailsOf(err error) map[string]any {
	var de *Error
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}
