// Package message 负责把会话历史编码成 provider 请求
package message

import (
	"context"
	"fmt"
	"strings"

	convo "coda/internal/message"
	"coda/internal/provider"
)

// InterruptedOutput stands in for a tool call that never produced a result.
const InterruptedOutput = "[Tool execution was interrupted]"

// defaultSystemPrompt is used when neither a prompt source nor a static
// prompt is configured.
const defaultSystemPrompt = "You are a helpful AI coding assistant."

// SystemSource supplies the system parts of a request.
type SystemSource interface {
	Parts(ctx context.Context) ([]string, error)
}

// Builder 负责构建 LLM 请求
type Builder interface {
	// Build 构建完整的请求
	Build(ctx context.Context, request *BuildRequest) (provider.ChatRequest, error)
}

// BuildRequest 封装构建请求
type BuildRequest struct {
	SessionID string
	Model     string
	History   []convo.Message
	Tools     []provider.Tool

	// Extra system parts appended after the configured ones (plan text, mode hints).
	Extra     []string
	MaxTokens int
}

// StandardBuilder 实现标准消息构建逻辑
type StandardBuilder struct {
	system       SystemSource
	staticPrompt string
}

// NewStandardBuilder 创建标准消息构建器
func NewStandardBuilder() *StandardBuilder {
	return &StandardBuilder{}
}

// SetSystemSource 设置系统提示词来源
func (b *StandardBuilder) SetSystemSource(s SystemSource) {
	b.system = s
}

// SetStaticPrompt 设置静态提示词
func (b *StandardBuilder) SetStaticPrompt(prompt string) {
	b.staticPrompt = prompt
}

// Build 构建请求
func (b *StandardBuilder) Build(ctx context.Context, request *BuildRequest) (provider.ChatRequest, error) {
	var system []string
	switch {
	case b.system != nil:
		parts, err := b.system.Parts(ctx)
		if err != nil {
			return provider.ChatRequest{}, fmt.Errorf("build system prompt: %w", err)
		}
		system = append(system, parts...)
	case b.staticPrompt != "":
		system = append(system, b.staticPrompt)
	default:
		system = append(system, defaultSystemPrompt)
	}
	for _, extra := range request.Extra {
		if strings.TrimSpace(extra) != "" {
			system = append(system, extra)
		}
	}

	return provider.ChatRequest{
		Model:     request.Model,
		System:    system,
		Messages:  Encode(request.History),
		Tools:     request.Tools,
		MaxTokens: request.MaxTokens,
		SessionID: request.SessionID,
	}, nil
}

// Encode converts history into wire messages.
//
// Each assistant message becomes one assistant wire message followed by one
// tool message per tool call. Calls without output are answered with
// InterruptedOutput and compacted outputs with their placeholder, so every
// call the provider sees has exactly one result.
func Encode(history []convo.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case convo.RoleUser:
			if text := m.Text(); text != "" {
				out = append(out, provider.Message{Role: provider.RoleUser, Content: text})
			}
		case convo.RoleAssistant:
			out = append(out, encodeAssistant(m)...)
		case convo.RoleTool:
			out = append(out, toolResults(m.ToolCalls())...)
		}
	}
	return provider.SanitizeMessages(out)
}

func encodeAssistant(m convo.Message) []provider.Message {
	var text, reasoning strings.Builder
	var calls []provider.ToolCall
	for _, p := range m.Parts {
		switch p.Kind {
		case convo.PartText:
			text.WriteString(p.Text)
		case convo.PartReasoning:
			reasoning.WriteString(p.Text)
		case convo.PartToolCall:
			args := string(p.Input)
			if strings.TrimSpace(args) == "" {
				args = "{}"
			}
			calls = append(calls, provider.ToolCall{ID: p.CallID, Name: p.Tool, Arguments: args})
		}
	}
	if text.Len() == 0 && len(calls) == 0 {
		// reasoning-only turns carry nothing the provider can replay
		return nil
	}

	msgs := []provider.Message{{
		Role:      provider.RoleAssistant,
		Content:   text.String(),
		Reasoning: reasoning.String(),
		ToolCalls: calls,
	}}
	return append(msgs, toolResults(m.ToolCalls())...)
}

func toolResults(parts []convo.Part) []provider.Message {
	msgs := make([]provider.Message, 0, len(parts))
	for _, p := range parts {
		content := InterruptedOutput
		if p.Output != nil {
			content = p.Output.ModelText()
		}
		msgs = append(msgs, provider.Message{Role: provider.RoleTool, Content: content, ToolCallID: p.CallID})
	}
	return msgs
}
