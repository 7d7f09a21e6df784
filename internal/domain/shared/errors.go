// Package shared contains the common domain types and errors used across
// the gradebook client. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base errors for classification with errors.Is().
var (
	// Validation errors - produced locally, before any network call.
	ErrValidation      = errors.New("validation error")
	ErrInvalidSubject  = errors.New("subject is not in the allowed set")
	ErrInvalidScore    = errors.New("score must be an integer between 1 and 5")
	ErrMissingStudent  = errors.New("student id is required")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")

	// Transport and server errors - produced by the fetch client.
	ErrTransport   = errors.New("transport error")
	ErrAuth        = errors.New("authentication failed")
	ErrNotFound    = errors.New("not found")
	ErrServer      = errors.New("server error")
	ErrRateLimited = errors.New("rate limited")
	ErrTimeout     = errors.New("operation timeout")

	// Coordination errors.
	ErrMutationInFlight = errors.New("a mutation for this student is already in flight")
	ErrReportInFlight   = errors.New("a report job for this student is already active")
	ErrReportTimeout    = errors.New("report not ready in time")

	// Session errors.
	ErrNoSession = errors.New("no active session")
)

// RequestError is a classified failure of one API request. Kind is one of
// the base errors above so callers can branch with errors.Is; Detail
// carries the server-provided message when the server sent one.
type RequestError struct {
	Kind   error  // ErrAuth, ErrNotFound, ErrServer, ErrTransport, ErrRateLimited
	Op     string // e.g. "GetGrades", "CreateGrade"
	Status int    // HTTP status, 0 for pure transport failures
	Detail string // server "detail" message, empty if none
	Err    error  // underlying error, optional
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("%s: %v (status %d)", e.Op, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying error chain.
func (e *RequestError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against the error kind.
func (e *RequestError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// Message returns the text to show a user: the server detail when the
// server provided one, a generic fallback otherwise.
func (e *RequestError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	switch {
	case errors.Is(e.Kind, ErrAuth):
		return "session expired, please log in again"
	case errors.Is(e.Kind, ErrNotFound):
		return "not found"
	default:
		return "request failed, check your connection and try again"
	}
}

// ValidationError carries a field-level message for local pre-dispatch
// rejections. It never reaches the network layer.
type ValidationError struct {
	Field   string
	Kind    error
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func (e *ValidationError) Is(target error) bool {
	return errors.Is(ErrValidation, target) || (e.Kind != nil && errors.Is(e.Kind, target))
}

// NewValidationError creates a field-level validation error.
func NewValidationError(field string, kind error, message string) *ValidationError {
	return &ValidationError{Field: field, Kind: kind, Message: message}
}

// IsValidation reports whether err was produced by local validation.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v) || errors.Is(err, ErrValidation)
}

// IsAuth reports whether err means the session token was rejected.
// Such an error must bubble to the session owner to force logout.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsNotFound reports whether err is a not-found response. Inside the
// report poll loop this is a "not ready yet" signal, not a failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether a read may be retried automatically.
// Validation, auth, and not-found failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout)
}
