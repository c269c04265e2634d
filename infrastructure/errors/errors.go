// Package errors provides unified error handling for the model plane.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
	ErrCodeUnavailable     ErrorCode = "UNAVAILABLE"
	ErrCodeInternal        ErrorCode = "INTERNAL"
)

// ServiceError represents a structured error with code, message, and HTTP status.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// NotFound builds the NotFound kind: requested entity absent, never retried.
func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// InvalidArgument builds the InvalidArgument kind: malformed request, never retried.
func InvalidArgument(field, reason string) *ServiceError {
	return New(ErrCodeInvalidArgument, "invalid argument", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// Conflict builds the Conflict kind: a uniqueness/state invariant was violated.
// Callers may retry after re-reading state.
func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// CircuitOpen builds the CircuitOpen kind: backend unavailable by breaker policy.
func CircuitOpen(backend string) *ServiceError {
	return New(ErrCodeCircuitOpen, "circuit open", http.StatusServiceUnavailable).
		WithDetails("backend", backend)
}

// Unavailable builds the Unavailable kind: transient dependency failure.
func Unavailable(dependency string, err error) *ServiceError {
	return Wrap(ErrCodeUnavailable, "dependency unavailable", http.StatusServiceUnavailable, err).
		WithDetails("dependency", dependency)
}

// Internal builds the Internal kind: unclassified failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// WireCode returns the {code, message} envelope code used on the wire, per
// the uniform error codes: not_found, invalid_argument, conflict,
// circuit_open, unavailable, internal.
func (e *ServiceError) WireCode() string {
	switch e.Code {
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeConflict:
		return "conflict"
	case ErrCodeCircuitOpen:
		return "circuit_open"
	case ErrCodeUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}
