package policy

import "fmt"

// Evaluate returns the last rule across rulesets (in order) whose permission
// and pattern both match, or nil when nothing matches.
func Evaluate(permission, value string, rulesets ...Ruleset) *Rule {
	var match *Rule
	for _, rs := range rulesets {
		for i := range rs {
			r := &rs[i]
			if MatchWildcard(r.Permission, permission) && MatchWildcard(r.Pattern, value) {
				match = r
			}
		}
	}
	return match
}

// ActionOf returns the rule's action, or ask for nil.
func ActionOf(r *Rule) Action {
	if r == nil || !r.Action.Valid() {
		return ActionAsk
	}
	return r.Action
}

// Combine folds several actions into one: deny beats ask beats allow.
// No actions yields ask.
func Combine(actions ...Action) Action {
	if len(actions) == 0 {
		return ActionAsk
	}
	out := ActionAllow
	for _, a := range actions {
		if a.weight() > out.weight() {
			out = a
		}
	}
	if !out.Valid() {
		return ActionAsk
	}
	return out
}

// Validate checks every rule of the ruleset.
func (rs Ruleset) Validate() error {
	for i, r := range rs {
		if r.Permission == "" {
			return fmt.Errorf("%w: rule %d has no permission", ErrInvalidRule, i)
		}
		if !r.Action.Valid() {
			return fmt.Errorf("%w: rule %d has action %q", ErrInvalidRule, i, r.Action)
		}
	}
	return nil
}

// AllowAll is a ruleset that permits everything.
func AllowAll() Ruleset {
	return Ruleset{{Permission: "*", Pattern: "*", Action: ActionAllow}}
}

// DefaultRuleset allows read-style permissions and asks for everything else.
func DefaultRuleset() Ruleset {
	return Ruleset{
		{Permission: "*", Pattern: "*", Action: ActionAsk},
		{Permission: "read", Pattern: "*", Action: ActionAllow},
		{Permission: "list", Pattern: "*", Action: ActionAllow},
		{Permission: "search", Pattern: "*", Action: ActionAllow},
		{Permission: "echo", Pattern: "*", Action: ActionAllow},
	}
}
