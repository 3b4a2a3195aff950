// Package types 定义 runner 和 orchestrator 之间共享的类型
package types

import (
	"time"

	"coda/internal/provider"
)

// EventType represents the type of event emitted during a turn.
type EventType int

const (
	// EventTypeContent indicates content being streamed from the model.
	EventTypeContent EventType = iota
	// EventTypeThinking indicates reasoning text streamed from the model.
	EventTypeThinking
	// EventTypeToolCall indicates the model wants to call a tool.
	EventTypeToolCall
	// EventTypeToolResult indicates a tool execution result.
	EventTypeToolResult
	// EventTypeRetry indicates a transient provider failure and a scheduled retry.
	EventTypeRetry
	// EventTypeCompaction indicates the history was summarized.
	EventTypeCompaction
	// EventTypeTruncated indicates the response was cut by the output token limit.
	EventTypeTruncated
	// EventTypeDone indicates the turn completed successfully.
	EventTypeDone
	// EventTypeError indicates the turn failed.
	EventTypeError
)

var eventTypeNames = map[EventType]string{
	EventTypeContent:    "content",
	EventTypeThinking:   "thinking",
	EventTypeToolCall:   "tool_call",
	EventTypeToolResult: "tool_result",
	EventTypeRetry:      "retry",
	EventTypeCompaction: "compaction",
	EventTypeTruncated:  "truncated",
	EventTypeDone:       "done",
	EventTypeError:      "error",
}

// String returns the event type name.
func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ToolResultEvent represents the result of a tool execution.
type ToolResultEvent struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Output     string `json:"output"`
	IsError    bool   `json:"is_error,omitempty"`
	Code       string `json:"code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// RetryEvent describes a scheduled retry of the model call.
type RetryEvent struct {
	Attempt   int           `json:"attempt"`
	Message   string        `json:"message"`
	Delay     time.Duration `json:"delay"`
	NextRetry time.Time     `json:"next_retry"`
}

// CompactionEvent describes a finished compaction.
type CompactionEvent struct {
	Summary string `json:"summary"`
	Auto    bool   `json:"auto"`
}

// Event represents an event emitted during agent execution.
type Event struct {
	Type            EventType          `json:"type"`
	Content         string             `json:"content,omitempty"`
	Thinking        string             `json:"thinking,omitempty"`
	ToolCall        *provider.ToolCall `json:"tool_call,omitempty"`
	ToolResult      *ToolResultEvent   `json:"tool_result,omitempty"`
	Retry           *RetryEvent        `json:"retry,omitempty"`
	Compaction      *CompactionEvent   `json:"compaction,omitempty"`
	Usage           *provider.Usage    `json:"usage,omitempty"`
	Error           error              `json:"-"`
	ErrorMsg        string             `json:"error,omitempty"`
	Iteration       int                `json:"iteration,omitempty"`
	SessionID       string             `json:"session_id,omitempty"`
	TruncatedReason string             `json:"truncated_reason,omitempty"`
}

// NewContentEvent creates a content event.
func NewContentEvent(content string) Event {
	return Event{
		Type:    EventTypeContent,
		Content: content,
	}
}

// NewThinkingEvent creates a thinking event.
func NewThinkingEvent(text string) Event {
	return Event{
		Type:     EventTypeThinking,
		Thinking: text,
	}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(err error) Event {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Event{
		Type:     EventTypeError,
		Error:    err,
		ErrorMsg: msg,
	}
}

// NewToolCallEvent creates a tool call event.
func NewToolCallEvent(call provider.ToolCall) Event {
	return Event{
		Type:     EventTypeToolCall,
		ToolCall: &call,
	}
}

// NewToolResultEvent creates a tool result event.
func NewToolResultEvent(callID, toolName, output string, isError bool, durationMs int64) Event {
	return Event{
		Type: EventTypeToolResult,
		ToolResult: &ToolResultEvent{
			ToolCallID: callID,
			ToolName:   toolName,
			Output:     output,
			IsError:    isError,
			DurationMs: durationMs,
		},
	}
}

// NewRetryEvent creates a retry status event. NextRetry is now + delay.
func NewRetryEvent(attempt int, msg string, delay time.Duration) Event {
	return Event{
		Type: EventTypeRetry,
		Retry: &RetryEvent{
			Attempt:   attempt,
			Message:   msg,
			Delay:     delay,
			NextRetry: time.Now().Add(delay),
		},
	}
}

// NewCompactionEvent creates a compaction event.
func NewCompactionEvent(summary string, auto bool) Event {
	return Event{
		Type:       EventTypeCompaction,
		Compaction: &CompactionEvent{Summary: summary, Auto: auto},
	}
}

// NewTruncatedEvent creates a truncated event.
func NewTruncatedEvent(reason string) Event {
	return Event{
		Type:            EventTypeTruncated,
		TruncatedReason: reason,
	}
}

// NewDoneEvent creates a done event with the final text and optional usage.
func NewDoneEvent(content string, usage *provider.Usage) Event {
	return Event{
		Type:    EventTypeDone,
		Content: content,
		Usage:   usage,
	}
}
