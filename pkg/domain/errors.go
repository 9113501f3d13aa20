package domain

import (
	"errors"
	"fmt"
	"time"
)

// Common domain errors
var (
	// ErrConnClosed is returned when using a closed connection
	ErrConnClosed = errors.New("connection closed")

	// ErrNotSubscribed is returned when unsubscribing a topic that was never subscribed
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrServiceNotFound is returned when a service is not in the registry
	ErrServiceNotFound = errors.New("service not found")

	// ErrBusClosed is returned when publishing to a stopped bus
	ErrBusClosed = errors.New("bus closed")

	// ErrUnauthorized is returned when the capability check rejects an operation
	ErrUnauthorized = errors.New("operation not permitted")
)

// ErrorType classifies a structured error.
type ErrorType int

const (
	// ErrorTypeTransport indicates a transport layer error
	ErrorTypeTransport ErrorType = iota
	// ErrorTypeProtocol indicates a malformed or unroutable frame
	ErrorTypeProtocol
	// ErrorTypeNotFound indicates a missing entity
	ErrorTypeNotFound
	// ErrorTypeInternal indicates an internal error
	ErrorTypeInternal
	// ErrorTypeTimeout indicates a timeout
	ErrorTypeTimeout
	// ErrorTypeValidation indicates invalid input
	ErrorTypeValidation
)

// Error is a structured error with a stable code and optional cause.
type Error struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks type and code equality
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// NewError creates a new structured error
func NewError(errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an error with additional context
func WrapError(err error, errorType ErrorType, code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
	}
}
