package hooks

import (
	"context"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"coda/pkg/logger"
)

// Manager manages hook registration and execution.
type Manager struct {
	registry *Registry
	executor *Executor
	logger   zerolog.Logger
}

// NewManager creates a new hook manager.
func NewManager() *Manager {
	return &Manager{
		registry: NewRegistry(),
		executor: NewExecutor(),
		logger:   logger.Component("hooks"),
	}
}

// SetLogger sets a custom logger.
func (m *Manager) SetLogger(l zerolog.Logger) {
	m.logger = l
	m.executor.logger = l
}

// Register registers a handler for the given hook type.
func (m *Manager) Register(hookType HookType, handler *Handler) error {
	return m.registry.Register(hookType, handler)
}

// Unregister removes a handler from the given hook type.
func (m *Manager) Unregister(hookType HookType, handlerID string) error {
	return m.registry.Unregister(hookType, handlerID)
}

// Trigger runs the handlers registered for hookCtx.Type.
func (m *Manager) Trigger(ctx context.Context, hookCtx *Context) (*Result, error) {
	if hookCtx == nil || !IsValidHookType(hookCtx.Type) {
		return nil, ErrHookTypeInvalid
	}
	handlers := m.registry.GetHandlers(hookCtx.Type)
	if len(handlers) == 0 {
		return ContinueResult(), nil
	}

	m.logger.Debug().
		Str("hook_type", string(hookCtx.Type)).
		Int("handler_count", len(handlers)).
		Msg("triggering hook")
	return m.executor.Execute(ctx, handlers, hookCtx), nil
}

// TriggerBeforeToolCall runs before_tool_call handlers. The params map is
// cloned; handlers never see the caller's map.
func (m *Manager) TriggerBeforeToolCall(ctx context.Context, sessionID string, call ToolCallContext) (*Result, error) {
	hookCtx := NewContext(HookBeforeToolCall)
	hookCtx.SessionID = sessionID
	call.Params = maps.Clone(call.Params)
	hookCtx.ToolCall = &call
	return m.Trigger(ctx, hookCtx)
}

// TriggerAfterToolCall runs after_tool_call handlers.
func (m *Manager) TriggerAfterToolCall(ctx context.Context, sessionID string, call ToolCallContext, result, toolErr string, duration time.Duration) (*Result, error) {
	hookCtx := NewContext(HookAfterToolCall)
	hookCtx.SessionID = sessionID
	call.Params = maps.Clone(call.Params)
	call.Result = result
	call.Error = toolErr
	call.Duration = duration
	hookCtx.ToolCall = &call
	return m.Trigger(ctx, hookCtx)
}

// ListHandlers returns all handlers for the given hook type.
func (m *Manager) ListHandlers(hookType HookType) []*Handler {
	return m.registry.GetHandlers(hookType)
}

// HasHandlers returns true if there are any handlers for the given hook type.
func (m *Manager) HasHandlers(hookType HookType) bool {
	return m.registry.HasHandlers(hookType)
}

// Close releases resources.
func (m *Manager) Close() error {
	m.registry.Clear()
	return nil
}
