package provider

import "encoding/json"

// Message represents a chat message in provider-neutral wire form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool/function call requested by the model.
type ToolCall struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// Tool represents a tool definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	Model     string    `json:"model"`
	System    []string  `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []Tool    `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	SessionID string    `json:"session_id,omitempty"`

	// Temperature is a pointer so that an explicit zero survives encoding.
	Temperature *float64 `json:"temperature,omitempty"`
}

// ChatResponse is a fully collected model response.
type ChatResponse struct {
	Content          string         `json:"content,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
	ToolCalls        []ToolCall     `json:"tool_calls,omitempty"`
	Usage            *Usage         `json:"usage,omitempty"`
	FinishReason     string         `json:"finish_reason,omitempty"`
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" yaml:"completion_tokens"`
	CachedTokens     int `json:"cached_tokens,omitempty" yaml:"cached_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens" yaml:"total_tokens,omitempty"`
}

// Count returns the number of context tokens the call occupied.
func (u Usage) Count() int {
	if sum := u.PromptTokens + u.CompletionTokens + u.CachedTokens; sum > 0 {
		return sum
	}
	return u.TotalTokens
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CachedTokens += other.CachedTokens
	u.TotalTokens += other.TotalTokens
}

// StreamEventType identifies a typed streaming event.
type StreamEventType string

// Stream event types.
const (
	EventTextStart      StreamEventType = "text-start"
	EventTextDelta      StreamEventType = "text-delta"
	EventTextEnd        StreamEventType = "text-end"
	EventReasoningStart StreamEventType = "reasoning-start"
	EventReasoningDelta StreamEventType = "reasoning-delta"
	EventReasoningEnd   StreamEventType = "reasoning-end"
	EventToolInputStart StreamEventType = "tool-input-start"
	EventToolInputDelta StreamEventType = "tool-input-delta"
	EventToolCall       StreamEventType = "tool-call"
	EventToolResult     StreamEventType = "tool-result"
	EventToolError      StreamEventType = "tool-error"
	EventError          StreamEventType = "error"
	EventFinish         StreamEventType = "finish"
)

// StreamEvent is one event of a model's streaming response.
type StreamEvent struct {
	Type StreamEventType `json:"type" yaml:"type"`

	// ID identifies the text/reasoning part or the tool call the event belongs to.
	ID    string `json:"id,omitempty" yaml:"id,omitempty"`
	Delta string `json:"delta,omitempty" yaml:"delta,omitempty"`

	ToolCall *ToolCall `json:"tool_call,omitempty" yaml:"tool_call,omitempty"`
	// Output carries provider-executed tool results (tool-result / tool-error).
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	Err error `json:"-" yaml:"-"`

	// Populated on finish.
	FinishReason string         `json:"finish_reason,omitempty" yaml:"finish_reason,omitempty"`
	Usage        *Usage         `json:"usage,omitempty" yaml:"usage,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Synthetic marks events inserted by the stream normalizer.
	Synthetic bool `json:"synthetic,omitempty" yaml:"-"`
}

// Role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// FinishReason constants.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
	FinishReasonFilter    = "content_filter"
	FinishReasonError     = "error"
	FinishReasonUnknown   = "unknown"
)
