package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures at the service boundary
type ErrorKind int

const (
	// KindValidation - required input missing or empty; never persisted
	KindValidation ErrorKind = iota + 1

	// KindNotFound - the requested slot has never been written
	KindNotFound

	// KindStorage - the document store call failed
	KindStorage

	// KindUpstream - an external dispatcher failed or is not configured
	KindUpstream
)

// String returns a human-readable kind name
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Error is the classified error returned by services
type Error struct {
	Kind    ErrorKind
	Message string
	// StatusCode overrides the default status of the kind (upstream status passthrough)
	StatusCode int
	// Details is the raw upstream body or message, when available
	Details string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code a handler should answer with
func (e *Error) HTTPStatus() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports a caller error
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NewNotFoundError reports an absent slot
func NewNotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// NewStorageError wraps a document store failure
func NewStorageError(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

// NewUpstreamError wraps a dispatcher failure with the upstream status and body
func NewUpstreamError(message string, statusCode int, details string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, StatusCode: statusCode, Details: details, Cause: cause}
}

// KindOf returns the kind of a classified error, or 0
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is an absent-slot failure
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsStorage reports whether err is a document store failure
func IsStorage(err error) bool { return KindOf(err) == KindStorage }

// IsUpstream reports whether err is a dispatcher failure
func IsUpstream(err error) bool { return KindOf(err) == KindUpstream }
