// Package provider defines the LLM provider interface and types.
package provider

import (
	"context"
	"strings"
)

// Provider resolves model handles.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Model returns a handle for the given model id.
	Model(id string) (Model, error)
}

// Model is a handle to one model of a provider.
type Model interface {
	// ID returns the model id.
	ID() string

	// Limits returns the model's context and output token limits. Zero means unknown.
	Limits() Limits

	// Stream sends a chat request and returns a channel of typed streaming
	// events. The channel is closed when the response ends; usage, finish
	// reason and provider metadata arrive on the finish event.
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}

// Limits holds per-model token limits.
type Limits struct {
	Context int `json:"context" mapstructure:"context" yaml:"context"`
	Output  int `json:"output" mapstructure:"output" yaml:"output"`
}

// Collect drains a stream into a ChatResponse. The first error event aborts
// collection and is returned.
func Collect(ctx context.Context, events <-chan StreamEvent) (*ChatResponse, error) {
	resp := &ChatResponse{FinishReason: FinishReasonUnknown}
	var content, reasoning strings.Builder

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				resp.Content = content.String()
				resp.Reasoning = reasoning.String()
				return resp, nil
			}
			switch ev.Type {
			case EventTextDelta:
				content.WriteString(ev.Delta)
			case EventReasoningDelta:
				reasoning.WriteString(ev.Delta)
			case EventToolCall:
				if ev.ToolCall != nil {
					resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
				}
			case EventError:
				return nil, ev.Err
			case EventFinish:
				if ev.FinishReason != "" {
					resp.FinishReason = ev.FinishReason
				}
				resp.Usage = ev.Usage
				resp.ProviderMetadata = ev.Metadata
			}
		}
	}
}
