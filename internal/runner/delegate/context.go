package delegate

import "context"

// MaxAbsoluteDepth is the hard limit on delegation depth. A sub-agent may not
// spawn another sub-agent.
const MaxAbsoluteDepth = 1

// DelegateContext carries delegation chain metadata through context.
type DelegateContext struct {
	// Depth is the nesting level (0 = main agent).
	Depth int
	// ParentSessionID is the session that issued the delegate call.
	ParentSessionID string
	// AgentName is the current sub-agent name.
	AgentName string
	// Chain is the delegation path, e.g. ["main", "explore"].
	Chain []string
}

type delegateContextKey struct{}

// WithDelegateContext injects the delegation context into a Go context.
func WithDelegateContext(ctx context.Context, dc *DelegateContext) context.Context {
	return context.WithValue(ctx, delegateContextKey{}, dc)
}

// GetDelegateContext extracts the delegation context from a Go context.
// Returns a root context if not present.
func GetDelegateContext(ctx context.Context) *DelegateContext {
	if dc, ok := ctx.Value(delegateContextKey{}).(*DelegateContext); ok {
		return dc
	}
	return &DelegateContext{Chain: []string{"main"}}
}

// CanDelegate reports whether the current depth allows further delegation.
func (dc *DelegateContext) CanDelegate() bool {
	return dc.Depth < MaxAbsoluteDepth
}

// ForChild creates the delegation context of a child agent.
func (dc *DelegateContext) ForChild(agentName, parentSessionID string) *DelegateContext {
	chain := make([]string, len(dc.Chain), len(dc.Chain)+1)
	copy(chain, dc.Chain)
	return &DelegateContext{
		Depth:           dc.Depth + 1,
		ParentSessionID: parentSessionID,
		AgentName:       agentName,
		Chain:           append(chain, agentName),
	}
}
