// Package policy decides whether a tool call may run: wildcard permission
// rules, shell command classification, workspace containment and dotenv
// protection.
package policy

// Action is the outcome of a permission rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionAsk   Action = "ask"
	ActionDeny  Action = "deny"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionAllow || a == ActionAsk || a == ActionDeny
}

func (a Action) weight() int {
	switch a {
	case ActionAllow:
		return 0
	case ActionAsk:
		return 1
	case ActionDeny:
		return 2
	}
	// 未知动作按 ask 处理
	return 1
}

// Rule maps a permission/value wildcard pair to an action.
type Rule struct {
	// Permission is a wildcard over permission names (e.g. "edit", "bash", "*").
	Permission string `yaml:"permission" json:"permission" mapstructure:"permission"`

	// Pattern is a wildcard over the value extracted from the call
	// (a path, a command line, a glob).
	Pattern string `yaml:"pattern" json:"pattern" mapstructure:"pattern"`

	Action Action `yaml:"action" json:"action" mapstructure:"action"`
}

// Ruleset is an ordered rule list. Later rules override earlier ones.
type Ruleset []Rule

// Decision is the combined permission verdict for one call.
type Decision struct {
	Action Action `json:"action"`

	// Matched holds the deciding rule per evaluated value; nil entries mean
	// no rule matched and the default applied.
	Matched []*Rule `json:"matched,omitempty"`

	Values []string `json:"values,omitempty"`
}
