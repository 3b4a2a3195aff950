// Package compaction keeps a conversation inside the model's context window:
// overflow detection, LLM summarization with rollback, and tool output pruning.
package compaction

import (
	"context"
	"errors"
)

// Compaction errors.
var (
	// ErrNoModel indicates that no model is configured for summarization.
	ErrNoModel = errors.New("compaction: model not configured")

	// ErrEmptySummary indicates that the model returned no summary text.
	ErrEmptySummary = errors.New("compaction: empty summary")
)

// Error is returned when a compaction attempt failed and was rolled back.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	if e.Canceled() {
		return "compaction cancelled: " + e.Err.Error()
	}
	return "compaction failed: " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Canceled reports whether the attempt stopped because its context ended.
func (e *Error) Canceled() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}
