// Package hooks lets collaborators intercept tool calls before and after
// they run. Handlers are Go functions or JavaScript files.
package hooks

import (
	"context"
	"time"
)

// HookType represents the type of hook event.
type HookType string

// Hook type constants.
const (
	HookBeforeToolCall HookType = "before_tool_call"
	HookAfterToolCall  HookType = "after_tool_call"
)

// AllHookTypes returns all supported hook types.
func AllHookTypes() []HookType {
	return []HookType{HookBeforeToolCall, HookAfterToolCall}
}

// IsValidHookType checks if the given type is a valid hook type.
func IsValidHookType(t HookType) bool {
	for _, ht := range AllHookTypes() {
		if ht == t {
			return true
		}
	}
	return false
}

// HandlerFunc is the function signature for hook handlers.
type HandlerFunc func(ctx context.Context, hookCtx *Context) (*Result, error)

// Handler represents a registered hook handler.
type Handler struct {
	ID          string      `json:"id"`
	Priority    int         `json:"priority"` // Higher = earlier execution, default 0
	Source      string      `json:"source"`   // "builtin" | "script"
	Handler     HandlerFunc `json:"-"`
	Description string      `json:"description,omitempty"`
	Enabled     bool        `json:"enabled"`
}

// Context is passed to hook handlers.
type Context struct {
	Type      HookType         `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	SessionID string           `json:"session_id,omitempty"`
	ToolCall  *ToolCallContext `json:"tool_call,omitempty"`
}

// ToolCallContext describes the call a hook sees.
type ToolCallContext struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Permission string         `json:"permission,omitempty"`
	Params     map[string]any `json:"params"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration,omitempty"`
}

// Result is what a hook handler returns.
type Result struct {
	// Continue=false on before_tool_call blocks the call.
	Continue bool `json:"continue"`
	Modified bool `json:"modified"`

	// Params replaces the call arguments when Modified is set.
	Params map[string]any `json:"params,omitempty"`

	// SkipApproval asks to waive a rule-level "ask". It never overrides a
	// deny or a safety check.
	SkipApproval bool `json:"skip_approval,omitempty"`

	Reason string `json:"reason,omitempty"`
	Error  error  `json:"-"`
}

// ContinueResult creates a result that allows the chain to continue.
func ContinueResult() *Result {
	return &Result{Continue: true}
}

// StopResult creates a result that stops the chain and blocks the call.
func StopResult(reason string) *Result {
	return &Result{Continue: false, Reason: reason}
}

// ModifiedResult creates a result carrying rewritten arguments.
func ModifiedResult(params map[string]any) *Result {
	return &Result{Continue: true, Modified: true, Params: params}
}

// NewContext creates a new hook context with the given type.
func NewContext(hookType HookType) *Context {
	return &Context{
		Type:      hookType,
		Timestamp: time.Now(),
	}
}
