package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode defines Provider error codes
type ErrorCode string

const (
	ErrCodeAuthFailed            ErrorCode = "AUTH_FAILED"
	ErrCodeRateLimited           ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelNotFound         ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeContextWindowExceeded ErrorCode = "CONTEXT_WINDOW_EXCEEDED"
	ErrCodeUnknown               ErrorCode = "UNKNOWN"
)

var (
	// ErrModelNotFound is returned by Provider.Model for unknown ids.
	ErrModelNotFound = errors.New("provider: model not found")

	// ErrParserState marks a provider-side stream parser that reached an
	// invalid state. After the finish event it is harmless.
	ErrParserState = errors.New("provider: stream parser in invalid state")
)

// ProviderError is a structured error for Provider operations.
// StatusCode, Header and Body are filled by HTTP-backed providers so the retry
// classifier can inspect them.
type ProviderError struct {
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Provider   string      `json:"provider"`
	StatusCode int         `json:"status_code,omitempty"`
	Header     http.Header `json:"-"`
	Body       []byte      `json:"-"`
	RetryAfter int         `json:"retry_after,omitempty"` // seconds until retry is allowed
	Cause      error       `json:"-"`
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (%d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new ProviderError
func NewProviderError(code ErrorCode, message, provider string) *ProviderError {
	return &ProviderError{
		Code:     code,
		Message:  message,
		Provider: provider,
	}
}

// NewHTTPError creates a ProviderError from an HTTP response.
func NewHTTPError(provider string, status int, header http.Header, body []byte) *ProviderError {
	code := ErrCodeUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ErrCodeAuthFailed
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	case status == http.StatusNotFound:
		code = ErrCodeModelNotFound
	case status == http.StatusBadRequest:
		code = ErrCodeInvalidRequest
	case status >= 500:
		code = ErrCodeServiceUnavailable
	}
	msg := http.StatusText(status)
	if len(body) > 0 {
		msg = string(body)
	}
	return &ProviderError{
		Code:       code,
		Message:    msg,
		Provider:   provider,
		StatusCode: status,
		Header:     header,
		Body:       body,
	}
}

// StreamStateError wraps a parser-state error seen before the stream finished.
// The answer is incomplete, so the attempt is retryable.
type StreamStateError struct {
	Err error
}

// Error implements the error interface.
func (e *StreamStateError) Error() string {
	return "stream interrupted before finish: " + e.Err.Error()
}

// Unwrap returns the wrapped parser error.
func (e *StreamStateError) Unwrap() error {
	return e.Err
}

// IsParserStateError reports whether err is a known provider parser-state
// error. Untyped errors are matched on their message.
func IsParserStateError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrParserState) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid stream state") ||
		strings.Contains(msg, "parser state") ||
		strings.Contains(msg, "unexpected event order")
}

// IsContextWindowExceeded checks if the error indicates that the input
// exceeded the model's context window limit.  It first checks for a typed
// ProviderError with ErrCodeContextWindowExceeded, then falls back to
// keyword matching on the error message for untyped errors.
func IsContextWindowExceeded(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code == ErrCodeContextWindowExceeded {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context window") ||
		strings.Contains(msg, "context length exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "too many tokens")
}
