package policy

import (
	"sync"

	"github.com/rs/zerolog"

	"coda/pkg/logger"
)

// Evaluator combines the configured rules with rules loaded from a file.
// File rules are evaluated after configured rules and so take precedence.
type Evaluator struct {
	mu     sync.RWMutex
	config Ruleset
	file   Ruleset
	logger zerolog.Logger
}

// NewEvaluator creates an evaluator over the given configured rules.
func NewEvaluator(rules Ruleset) *Evaluator {
	return &Evaluator{
		config: append(Ruleset(nil), rules...),
		logger: logger.Component("policy"),
	}
}

// SetLogger sets a custom logger.
func (e *Evaluator) SetLogger(l zerolog.Logger) {
	e.logger = l
}

// SetFileRules replaces the file-backed ruleset.
func (e *Evaluator) SetFileRules(rules Ruleset) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file = append(Ruleset(nil), rules...)
}

// Rulesets returns the active rulesets in evaluation order.
func (e *Evaluator) Rulesets() []Ruleset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return []Ruleset{e.config, e.file}
}

// Check evaluates permission against every value and combines the results.
// A call with no extracted values is evaluated once against "*".
func (e *Evaluator) Check(permission string, values []string) Decision {
	if len(values) == 0 {
		values = []string{"*"}
	}
	rulesets := e.Rulesets()

	d := Decision{Values: values}
	actions := make([]Action, 0, len(values))
	for _, v := range values {
		r := Evaluate(permission, v, rulesets...)
		d.Matched = append(d.Matched, r)
		actions = append(actions, ActionOf(r))
	}
	d.Action = Combine(actions...)

	e.logger.Debug().
		Str("permission", permission).
		Strs("values", values).
		Str("action", string(d.Action)).
		Msg("permission evaluated")
	return d
}
