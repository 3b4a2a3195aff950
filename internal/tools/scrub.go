package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// ScrubRule is a user-supplied redaction rule. An empty Replacement keeps
// the first four characters of each match.
type ScrubRule struct {
	Name        string `json:"name" mapstructure:"name" yaml:"name"`
	Pattern     string `json:"pattern" mapstructure:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement,omitempty" mapstructure:"replacement" yaml:"replacement,omitempty"`
}

// CompiledScrubRule is a ScrubRule with its pattern compiled.
type CompiledScrubRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

type credentialPattern struct {
	name    string
	pattern *regexp.Regexp
}

var credentialPatterns = []credentialPattern{
	{"env", regexp.MustCompile(`(?i)(API_KEY|SECRET|TOKEN|PASSWORD|CREDENTIAL|PRIVATE[._]KEY)\s*[=:]\s*['"]?(\S{8,})`)},
	{"bearer", regexp.MustCompile(`(?i)Bearer\s+([A-Za-z0-9\-._~+/]{20,}=*)`)},
	{"sk", regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`)},
	{"github", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)},
	{"aws", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"hex", regexp.MustCompile(`(?i)(secret|key|token)['":\s]+[0-9a-f]{32,}`)},
}

// ScrubCredentials replaces detected credentials with redacted placeholders.
// Built-in patterns run first, then custom rules.
func ScrubCredentials(input string, custom ...CompiledScrubRule) string {
	out := input
	for _, cp := range credentialPatterns {
		name := cp.name
		out = cp.pattern.ReplaceAllStringFunc(out, func(m string) string {
			return redactMatch(m, name)
		})
	}
	for _, cr := range custom {
		if cr.Replacement != "" {
			out = cr.Pattern.ReplaceAllString(out, cr.Replacement)
			continue
		}
		out = cr.Pattern.ReplaceAllStringFunc(out, partialRedact)
	}
	return out
}

// CompileScrubRules compiles rules, skipping those without a pattern.
func CompileScrubRules(rules []ScrubRule) ([]CompiledScrubRule, error) {
	var compiled []CompiledScrubRule
	for _, r := range rules {
		if r.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid scrub rule %q: %w", r.Name, err)
		}
		compiled = append(compiled, CompiledScrubRule{Name: r.Name, Pattern: re, Replacement: r.Replacement})
	}
	return compiled, nil
}

// redactMatch keeps the key or scheme of a match and redacts the value.
func redactMatch(m, name string) string {
	switch name {
	case "env":
		if i := strings.IndexAny(m, "=:"); i >= 0 {
			val := strings.Trim(strings.TrimSpace(m[i+1:]), `'"`)
			return m[:i+1] + " " + partialRedact(val)
		}
	case "bearer":
		if scheme, tok, ok := strings.Cut(m, " "); ok {
			return scheme + " " + partialRedact(strings.TrimSpace(tok))
		}
	case "hex":
		if i := strings.IndexAny(m, `'"=: `); i >= 0 {
			return m[:i+1] + partialRedact(strings.TrimLeft(m[i+1:], `'"=: `))
		}
	}
	return partialRedact(m)
}

func partialRedact(s string) string {
	if len(s) <= 4 {
		return "[REDACTED]"
	}
	return s[:4] + "...[REDACTED]"
}
