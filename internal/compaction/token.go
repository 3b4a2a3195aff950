package compaction

import "coda/internal/provider"

// EstimateText estimates the token count for a given text.
// Roughly 3 characters per token, which holds for mixed English/Chinese.
func EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 2) / 3
}

// IsOverflow reports whether the last call's usage leaves less than the
// reserved output budget free. Unknown context limits never overflow.
func IsOverflow(usage provider.Usage, limits provider.Limits, reserved int) bool {
	if limits.Context <= 0 {
		return false
	}
	output := reserved
	if limits.Output > 0 && (output <= 0 || limits.Output < output) {
		output = limits.Output
	}
	return usage.Count() > limits.Context-output
}
