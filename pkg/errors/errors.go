// Package errors provides structured error types for neonfeed.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI, the API layer and the offline proxy
//   - Machine-readable error codes for programmatic handling
//   - User-friendly error messages
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Request failures follow a small taxonomy:
//   - CLIENT_ERROR: the server answered 4xx; terminal, never retried
//   - TRANSIENT: network failure or 5xx; retried with backoff
//   - RETRY_EXHAUSTED: every attempt failed with a transient error
//   - OFFLINE_UNAVAILABLE: the network is down and nothing usable is cached
//
// # Usage
//
//	err := errors.ClientError(http.StatusNotFound)
//	if errors.Is(err, errors.ErrCodeClient) {
//	    // Do not retry
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeInternal, origErr, "decode %s", url)
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeInvalidBucket Code = "INVALID_BUCKET"

	// Resource not found errors
	ErrCodeNotFound Code = "NOT_FOUND"

	// Request errors
	ErrCodeClient             Code = "CLIENT_ERROR"
	ErrCodeTransient          Code = "TRANSIENT"
	ErrCodeRetryExhausted     Code = "RETRY_EXHAUSTED"
	ErrCodeOfflineUnavailable Code = "OFFLINE_UNAVAILABLE"

	// Offline worker lifecycle errors
	ErrCodeInstallFailed Code = "INSTALL_FAILED"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Status  int    // HTTP status that produced the error, 0 if none
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// ClientError reports a terminal 4xx response.
func ClientError(status int) *Error {
	return &Error{
		Code:    ErrCodeClient,
		Message: fmt.Sprintf("client error: %d %s", status, http.StatusText(status)),
		Status:  status,
	}
}

// Transient reports a retryable failure. A nil cause with a status describes
// a 5xx response; a non-nil cause describes a network failure.
func Transient(status int, cause error) *Error {
	msg := "network error"
	if status > 0 {
		msg = fmt.Sprintf("server error: %d %s", status, http.StatusText(status))
	}
	return &Error{Code: ErrCodeTransient, Message: msg, Status: status, Cause: cause}
}

// RetryExhausted reports that all attempts failed. The last attempt's error
// is kept as the cause.
func RetryExhausted(attempts int, last error) *Error {
	return &Error{
		Code:    ErrCodeRetryExhausted,
		Message: fmt.Sprintf("giving up after %d attempts", attempts),
		Status:  StatusOf(last),
		Cause:   last,
	}
}

// OfflineUnavailable reports a network failure with no cached fallback.
func OfflineUnavailable(url string, cause error) *Error {
	return &Error{
		Code:    ErrCodeOfflineUnavailable,
		Message: fmt.Sprintf("offline and no cached copy of %s", url),
		Status:  http.StatusServiceUnavailable,
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StatusOf returns the first HTTP status recorded in the error chain, or 0.
func StatusOf(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.Status != 0 {
			return e.Status
		}
		err = e.Cause
	}
	return 0
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Envelope is the JSON body returned in place of data when a request fails.
type Envelope struct {
	Error  string `json:"error"`
	Code   Code   `json:"code,omitempty"`
	Status int    `json:"status,omitempty"`
}

// NewEnvelope builds an envelope for err carrying message as the user text.
func NewEnvelope(err error, message string) *Envelope {
	return &Envelope{
		Error:  message,
		Code:   GetCode(err),
		Status: StatusOf(err),
	}
}
