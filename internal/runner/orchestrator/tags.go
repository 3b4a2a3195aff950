package orchestrator

import (
	"regexp"
	"strings"
)

var (
	// thinkBlockRe matches closed <think>...</think> reasoning blocks.
	thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	// specialTokenRe matches chat-template tokens such as <|im_end|>.
	specialTokenRe = regexp.MustCompile(`<\|[a-zA-Z0-9_:.\-]{1,64}\|>`)
)

// stripControlTags removes reasoning tags and template tokens some models
// leak into their visible text. An unclosed <think> drops the rest of the text.
func stripControlTags(s string) string {
	s = thinkBlockRe.ReplaceAllString(s, "")
	if idx := strings.LastIndex(s, "<think>"); idx != -1 {
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "</think>", "")
	s = specialTokenRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
