package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents different classes of failures inside the service
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeStore      ErrorType = "store"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Error carries a type, the operation that failed and the underlying cause
type Error struct {
	Type ErrorType
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Type, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Type, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error for op wrapping err
func New(t ErrorType, op string, err error) *Error {
	return &Error{Type: t, Op: op, Err: err}
}

// Validation reports a missing or malformed input
func Validation(op string, format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, op, fmt.Errorf(format, args...))
}

// Store wraps a failure returned by a persistent store driver
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrorTypeTimeout, op, err)
	}
	return New(ErrorTypeStore, op, err)
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown if it is untyped
func TypeOf(err error) ErrorType {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err carries the given type anywhere in its chain
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeStore, ErrorTypeTimeout:
		return true
	case ErrorTypeValidation, ErrorTypeConfig, ErrorTypeNotFound:
		return false
	default:
		return false
	}
}
