package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the substrate.
type ErrorCode string

const (
	// ErrNetwork marks transient transport failures: timeouts, connection
	// loss, broker unavailability. Retryable.
	ErrNetwork ErrorCode = "NETWORK_ERROR"

	// ErrProtocol marks permanent wire-level failures: malformed envelopes,
	// unsupported versions, unknown message types. Never retried.
	ErrProtocol ErrorCode = "PROTOCOL_ERROR"

	// ErrCircuitOpen marks fail-fast rejections while the circuit breaker
	// is open.
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// ErrStorage marks memory-store failures: encryption, decryption or
	// disk exhaustion. Always surfaced, never swallowed.
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// ErrRetriesExhausted marks a retry budget spent without success. The
	// wrapped cause is the last failure.
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"

	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message. Network-class
// errors are retryable by default; everything else is not.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code == ErrNetwork}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewNetworkError wraps a transient transport failure.
func NewNetworkError(message string, cause error) *Error {
	return NewError(ErrNetwork, message).WithCause(cause)
}

// NewProtocolError wraps a permanent wire-level failure.
func NewProtocolError(message string, cause error) *Error {
	return NewError(ErrProtocol, message).WithCause(cause)
}

// NewStorageError wraps a memory-store failure.
func NewStorageError(message string, cause error) *Error {
	return NewError(ErrStorage, message).WithCause(cause)
}

// IsRetryable checks if an error is retryable. Only network-class errors
// (and errors explicitly flagged) ever are.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its
// chain.
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Unwrap()
	}
	return false
}

// IsNetworkError reports whether err is a transient transport failure.
func IsNetworkError(err error) bool { return IsErrorCode(err, ErrNetwork) }

// IsProtocolError reports whether err is a permanent wire-level failure.
func IsProtocolError(err error) bool { return IsErrorCode(err, ErrProtocol) }

// IsStorageError reports whether err is a memory-store failure.
func IsStorageError(err error) bool { return IsErrorCode(err, ErrStorage) }

// IsCircuitOpen reports whether err is a breaker fail-fast rejection.
func IsCircuitOpen(err error) bool { return IsErrorCode(err, ErrCircuitOpen) }

// IsRetriesExhausted reports whether err is a spent retry budget.
func IsRetriesExhausted(err error) bool { return IsErrorCode(err, ErrRetriesExhausted) }
