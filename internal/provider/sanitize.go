package provider

import "encoding/json"

// SanitizeMessages cleans up tool call pairs in the wire history.
// Tool calls with invalid JSON arguments are dropped together with their
// tool result messages, so a truncated stream never reaches the provider
// as a malformed request.
func SanitizeMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	valid := make(map[string]bool)
	cleaned := make([]Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role != RoleAssistant || len(msg.ToolCalls) == 0 {
			cleaned = append(cleaned, msg)
			continue
		}
		var calls []ToolCall
		for _, tc := range msg.ToolCalls {
			// 空参数合法
			if tc.Arguments == "" || json.Valid([]byte(tc.Arguments)) {
				calls = append(calls, tc)
				if tc.ID != "" {
					valid[tc.ID] = true
				}
			}
		}
		if len(calls) == 0 && msg.Content == "" {
			continue
		}
		msg.ToolCalls = calls
		cleaned = append(cleaned, msg)
	}

	result := cleaned[:0]
	for _, msg := range cleaned {
		if msg.Role == RoleTool && msg.ToolCallID != "" && !valid[msg.ToolCallID] {
			continue
		}
		result = append(result, msg)
	}
	return result
}
