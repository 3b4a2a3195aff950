// Package tools defines tool definitions, results and the registry the agent
// loop dispatches through.
package tools

import (
	"context"
	"encoding/json"
)

// Context keys for passing execution context to tools.
type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	callIDKey    contextKey = "call_id"
	depthKey     contextKey = "agent_depth"
)

// WithSessionID returns a new context with the session ID attached.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext retrieves the session ID from the context, if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok
}

// WithCallID returns a new context with the tool call ID attached.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// CallIDFromContext retrieves the tool call ID from the context, if present.
func CallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDKey).(string)
	return id, ok
}

// WithDepth records how deeply nested the running agent is (0 = top level).
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey, depth)
}

// DepthFromContext returns the agent nesting depth, 0 when unset.
func DepthFromContext(ctx context.Context) int {
	d, _ := ctx.Value(depthKey).(int)
	return d
}

// PatternKind says how an argument value is interpreted for permission checks.
type PatternKind string

const (
	// KindPath values are file system paths; they are containment-checked.
	KindPath PatternKind = "path"
	// KindCommand values are shell command lines; they are safety-classified.
	KindCommand PatternKind = "command"
	// KindGlob values are search include globs.
	KindGlob PatternKind = "glob"
	// KindRaw values are matched as-is.
	KindRaw PatternKind = "raw"
)

// ArgPattern names an argument whose value feeds permission evaluation.
type ArgPattern struct {
	Arg  string      `json:"arg"`
	Kind PatternKind `json:"kind"`
}

// Permission is the policy metadata of a tool.
type Permission struct {
	// Name is matched against rule permissions. Defaults to the tool id.
	Name     string       `json:"name,omitempty"`
	Patterns []ArgPattern `json:"patterns,omitempty"`

	RequiresApproval      bool `json:"requiresApproval,omitempty"`
	ReadOnly              bool `json:"readOnly,omitempty"`
	SupportsExternalPaths bool `json:"supportsExternalPaths,omitempty"`
}

// Definition describes a tool to the model and to the permission pipeline.
type Definition struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Permission  Permission     `json:"permission"`
}

// PermissionName returns the permission name, falling back to the id.
func (d Definition) PermissionName() string {
	if d.Permission.Name != "" {
		return d.Permission.Name
	}
	return d.ID
}

// Result is the uniform outcome of a tool execution.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Code     string         `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Success builds a successful result.
func Success(data any) Result {
	return Result{Success: true, Data: data}
}

// Failure builds a failed result with a machine-readable code.
func Failure(code, msg string) Result {
	return Result{Success: false, Error: msg, Code: code}
}

// Text renders the result as the text the model sees. Successful string data
// is passed through; other data and all failures are JSON.
func (r Result) Text() string {
	var payload any
	if r.Success {
		switch d := r.Data.(type) {
		case nil:
			return ""
		case string:
			return d
		default:
			payload = d
		}
	} else {
		payload = struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
			Code    string `json:"code,omitempty"`
		}{false, r.Error, r.Code}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"success":false,"error":"unencodable tool result"}`
	}
	return string(data)
}

// Handler executes a tool with decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Entry is one registered tool.
type Entry struct {
	Definition Definition
	Handler    Handler
}
