package orchestrator

import (
	"errors"
	"fmt"
)

// Common errors used by the loop
var (
	// ErrMaxIterations 表示达到最大迭代次数
	ErrMaxIterations = errors.New("orchestrator: max iterations reached")

	// ErrAborted 表示上下文被取消
	ErrAborted = errors.New("orchestrator: turn aborted")

	// ErrNoModel is returned when the loop has no model to call.
	ErrNoModel = errors.New("orchestrator: no model configured")
)

// ProviderFatalError is a provider failure that was not retried, either
// because it is not transient or because the retry budget is spent.
type ProviderFatalError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ProviderFatalError) Error() string {
	return fmt.Sprintf("provider failed after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the provider error.
func (e *ProviderFatalError) Unwrap() error {
	return e.Err
}

// abortError wraps the context error so callers can test for both
// ErrAborted and context.Canceled.
type abortError struct {
	cause error
}

func (e *abortError) Error() string {
	return ErrAborted.Error() + ": " + e.cause.Error()
}

func (e *abortError) Is(target error) bool {
	return target == ErrAborted
}

func (e *abortError) Unwrap() error {
	return e.cause
}

func aborted(cause error) error {
	if cause == nil {
		cause = errors.New("canceled")
	}
	var ae *abortError
	if errors.As(cause, &ae) {
		return cause
	}
	return &abortError{cause: cause}
}
