package policy

import (
	"regexp"
	"strings"
	"sync"
)

// compiled wildcard patterns, keyed by pattern text
var wildcardCache sync.Map

// MatchWildcard reports whether value matches pattern. '*' matches any run of
// characters (including none and newlines), '?' exactly one. The pattern is
// anchored at both ends. An empty pattern or "*" matches everything.
func MatchWildcard(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return compileWildcard(pattern).MatchString(value)
}

func compileWildcard(pattern string) *regexp.Regexp {
	if cached, ok := wildcardCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}

	var b strings.Builder
	b.WriteString(`(?s)^`)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)

	// QuoteMeta 保证表达式总是合法
	re := regexp.MustCompile(b.String())
	wildcardCache.Store(pattern, re)
	return re
}
