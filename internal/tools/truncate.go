package tools

import (
	"fmt"
	"regexp"
)

// DefaultMaxResultBytes bounds a tool result before truncation.
const DefaultMaxResultBytes = 64 * 1024

var (
	dataURIPattern = regexp.MustCompile(`data:[a-zA-Z0-9+/=\-]+;base64,[A-Za-z0-9+/=]{64,}`)
	hexBlobPattern = regexp.MustCompile(`[0-9a-fA-F]{256,}`)
)

// TruncateOutput shrinks content to about maxBytes. Inline base64 data URIs
// and long hex blobs are collapsed first; if that is not enough the head and
// tail are kept around a marker.
func TruncateOutput(content string, maxBytes int) string {
	if len(content) <= maxBytes {
		return content
	}

	content = dataURIPattern.ReplaceAllStringFunc(content, func(m string) string {
		return fmt.Sprintf("[base64 data removed, %d bytes]", len(m))
	})
	if len(content) <= maxBytes {
		return content
	}

	content = hexBlobPattern.ReplaceAllStringFunc(content, func(m string) string {
		return fmt.Sprintf("[hex data removed, %d bytes]", len(m))
	})
	if len(content) <= maxBytes {
		return content
	}

	keep := maxBytes * 2 / 5
	removed := len(content) - 2*keep
	return content[:keep] +
		fmt.Sprintf("\n\n[... %d bytes truncated ...]\n\n", removed) +
		content[len(content)-keep:]
}
