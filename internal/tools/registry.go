package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"coda/internal/provider"
)

// Registry holds tool entries by id. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds an entry. Ids must be unique.
func (r *Registry) Register(e Entry) error {
	if e.Definition.ID == "" {
		return NewInvalidArgsError("registry", "tool id cannot be empty", nil)
	}
	if e.Handler == nil {
		return NewInvalidArgsError(e.Definition.ID, "handler cannot be nil", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Definition.ID]; exists {
		return ErrToolAlreadyExists
	}
	r.entries[e.Definition.ID] = e
	return nil
}

// MustRegister adds an entry and panics on error.
func (r *Registry) MustRegister(e Entry) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Definitions returns all definitions sorted by id.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Execute runs a tool by id.
func (r *Registry) Execute(ctx context.Context, id string, args map[string]any) (Result, error) {
	e, ok := r.Lookup(id)
	if !ok {
		return Result{}, &ToolNotFoundError{Name: id}
	}
	return e.Handler(ctx, args)
}

// Filter returns a registry holding the entries keep accepts.
func (r *Registry) Filter(keep func(Definition) bool) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for id, e := range r.entries {
		if keep(e.Definition) {
			out.entries[id] = e
		}
	}
	return out
}

// ToProviderTools converts definitions to the provider's tool format.
func (r *Registry) ToProviderTools() ([]provider.Tool, error) {
	defs := r.Definitions()
	out := make([]provider.Tool, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, NewInvalidArgsError(d.ID, "failed to marshal parameters", err)
		}
		out = append(out, provider.Tool{Name: d.ID, Description: d.Description, Parameters: raw})
	}
	return out, nil
}
