package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidInput, "test message: %s", "value")

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidInput)
	}

	if err.Message != "test message: value" {
		t.Errorf("Message = %v, want %v", err.Message, "test message: value")
	}

	expected := "INVALID_INPUT: test message: value"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeInternal, cause, "failed to decode")

	if err.Code != ErrCodeInternal {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInternal)
	}

	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}

	// Test Unwrap
	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	// Test errors.Is with wrapped error
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeInvalidInput, "test"),
			code:     ErrCodeInvalidInput,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeInvalidInput, "test"),
			code:     ErrCodeTransient,
			expected: false,
		},
		{
			name:     "outer code",
			err:      RetryExhausted(3, Transient(http.StatusBadGateway, nil)),
			code:     ErrCodeRetryExhausted,
			expected: true,
		},
		{
			name:     "inner code",
			err:      RetryExhausted(3, Transient(http.StatusBadGateway, nil)),
			code:     ErrCodeTransient,
			expected: true,
		},
		{
			name:     "wrapped by fmt",
			err:      fmt.Errorf("fetch: %w", ClientError(http.StatusNotFound)),
			code:     ErrCodeClient,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeInvalidInput,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeInvalidInput,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Code
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeInvalidBucket, "test"),
			expected: ErrCodeInvalidBucket,
		},
		{
			name:     "plain error",
			err:      errors.New("plain"),
			expected: "",
		},
		{
			name:     "nil",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"client error", ClientError(http.StatusForbidden), http.StatusForbidden},
		{"exhausted keeps last status", RetryExhausted(3, Transient(http.StatusServiceUnavailable, nil)), http.StatusServiceUnavailable},
		{"network failure", Transient(0, errors.New("connection refused")), 0},
		{"plain", errors.New("plain"), 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "Error type",
			err:      New(ErrCodeInvalidInput, "friendly message"),
			expected: "friendly message",
		},
		{
			name:     "client error",
			err:      ClientError(http.StatusNotFound),
			expected: "client error: 404 Not Found",
		},
		{
			name:     "plain error",
			err:      errors.New("plain error"),
			expected: "plain error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.expected {
				t.Errorf("UserMessage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	err := RetryExhausted(3, Transient(http.StatusInternalServerError, nil))
	got := NewEnvelope(err, "An error occurred. Please try again.")
	want := &Envelope{
		Error:  "An error occurred. Please try again.",
		Code:   ErrCodeRetryExhausted,
		Status: http.StatusInternalServerError,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewEnvelope() mismatch (-want +got):\n%s", diff)
	}
}

func TestOfflineUnavailable(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := OfflineUnavailable("http://localhost/feed", cause)
	if err.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", err.Status)
	}
	if !errors.Is(err, cause) {
		t.Error("OfflineUnavailable should wrap its cause")
	}
}
