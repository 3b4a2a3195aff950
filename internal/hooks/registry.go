package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages hook handler registrations.
type Registry struct {
	handlers map[HookType][]*Handler
	mu       sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[HookType][]*Handler),
	}
}

// Register registers a handler for the given hook type.
// Returns an error if a handler with the same ID already exists.
func (r *Registry) Register(hookType HookType, handler *Handler) error {
	if !IsValidHookType(hookType) {
		return fmt.Errorf("%w: %s", ErrHookTypeInvalid, hookType)
	}
	if handler == nil || handler.ID == "" {
		return fmt.Errorf("%w: handler ID is required", ErrHandlerNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.handlers[hookType] {
		if h.ID == handler.ID {
			return fmt.Errorf("%w: %s", ErrHandlerExists, handler.ID)
		}
	}
	r.handlers[hookType] = append(r.handlers[hookType], handler)

	// 高优先级先执行，同优先级保持注册顺序
	sort.SliceStable(r.handlers[hookType], func(i, j int) bool {
		return r.handlers[hookType][i].Priority > r.handlers[hookType][j].Priority
	})
	return nil
}

// Unregister removes a handler from the given hook type.
func (r *Registry) Unregister(hookType HookType, handlerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers := r.handlers[hookType]
	for i, h := range handlers {
		if h.ID == handlerID {
			r.handlers[hookType] = append(handlers[:i:i], handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHandlerNotFound, handlerID)
}

// GetHandlers returns a copy of the handlers for the given hook type,
// highest priority first.
func (r *Registry) GetHandlers(hookType HookType) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := r.handlers[hookType]
	if len(handlers) == 0 {
		return nil
	}
	result := make([]*Handler, len(handlers))
	copy(result, handlers)
	return result
}

// HasHandlers returns true if there are any handlers registered for the given hook type.
func (r *Registry) HasHandlers(hookType HookType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[hookType]) > 0
}

// Count returns the total number of registered handlers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, handlers := range r.handlers {
		total += len(handlers)
	}
	return total
}

// Clear removes all registered handlers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[HookType][]*Handler)
}
