// Package scripted is a provider that replays canned model responses from a
// YAML transcript. It backs the CLI demo and the loop tests.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"coda/internal/provider"
)

// ErrExhausted is returned when a model is called more often than scripted.
var ErrExhausted = errors.New("scripted: no responses left")

// Event is a stream event as written in a transcript. Error turns the event
// into an error event.
type Event struct {
	provider.StreamEvent `yaml:",inline"`

	Error  string `yaml:"error,omitempty"`
	Status int    `yaml:"status,omitempty"`
}

// Step is one scripted model call. A step with Error fails the call before
// any event is produced.
type Step struct {
	Events     []Event `yaml:"events"`
	Error      string  `yaml:"error,omitempty"`
	Status     int     `yaml:"status,omitempty"`
	RetryAfter string  `yaml:"retry_after,omitempty"`
}

// Script is the transcript file format.
type Script struct {
	Provider string          `yaml:"provider"`
	Model    string          `yaml:"model"`
	Limits   provider.Limits `yaml:"limits"`
	Steps    []Step          `yaml:"steps"`
}

// Model replays steps in order.
type Model struct {
	id     string
	limits provider.Limits

	mu       sync.Mutex
	steps    []Step
	requests []provider.ChatRequest
}

// NewModel creates a model that answers with steps.
func NewModel(id string, limits provider.Limits, steps ...Step) *Model {
	return &Model{id: id, limits: limits, steps: steps}
}

// ID returns the model id.
func (m *Model) ID() string { return m.id }

// Limits returns the configured limits.
func (m *Model) Limits() provider.Limits { return m.limits }

// Requests returns the requests seen so far.
func (m *Model) Requests() []provider.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.ChatRequest(nil), m.requests...)
}

// Remaining returns how many steps are left.
func (m *Model) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

// Stream pops the next step and replays it.
func (m *Model) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.StreamEvent, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		m.mu.Unlock()
		return nil, ErrExhausted
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Error != "" {
		return nil, stepError(step.Error, step.Status, step.RetryAfter)
	}

	out := make(chan provider.StreamEvent)
	go func() {
		defer close(out)
		for _, e := range step.Events {
			ev := e.StreamEvent
			if e.Error != "" {
				ev.Type = provider.EventError
				ev.Err = stepError(e.Error, e.Status, "")
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func stepError(msg string, status int, retryAfter string) error {
	if status == 0 {
		return errors.New(msg)
	}
	header := http.Header{}
	if retryAfter != "" {
		header.Set("Retry-After", retryAfter)
	}
	return provider.NewHTTPError("scripted", status, header, []byte(msg))
}

// Provider serves scripted models by id.
type Provider struct {
	name   string
	models map[string]*Model
}

// New creates a provider over models.
func New(name string, models ...*Model) *Provider {
	p := &Provider{name: name, models: make(map[string]*Model)}
	for _, m := range models {
		p.models[m.id] = m
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Model returns the scripted model with id.
func (p *Provider) Model(id string) (provider.Model, error) {
	m, ok := p.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", provider.ErrModelNotFound, id)
	}
	return m, nil
}

// Parse decodes a YAML transcript into a provider with a single model.
func Parse(data []byte) (*Provider, *Model, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, nil, fmt.Errorf("parse transcript: %w", err)
	}
	if s.Provider == "" {
		s.Provider = "scripted"
	}
	if s.Model == "" {
		s.Model = "replay"
	}
	m := NewModel(s.Model, s.Limits, s.Steps...)
	return New(s.Provider, m), m, nil
}

// Load reads and parses a transcript file.
func Load(path string) (*Provider, *Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(data)
}

// Text returns the events of a complete text part.
func Text(id, text string) []Event {
	return []Event{
		{StreamEvent: provider.StreamEvent{Type: provider.EventTextStart, ID: id}},
		{StreamEvent: provider.StreamEvent{Type: provider.EventTextDelta, ID: id, Delta: text}},
		{StreamEvent: provider.StreamEvent{Type: provider.EventTextEnd, ID: id}},
	}
}

// Call returns a tool-call event.
func Call(id, name, args string) Event {
	return Event{StreamEvent: provider.StreamEvent{
		Type:     provider.EventToolCall,
		ID:       id,
		ToolCall: &provider.ToolCall{ID: id, Name: name, Arguments: args},
	}}
}

// Finish returns a finish event with usage.
func Finish(reason string, promptTokens, completionTokens int) Event {
	return Event{StreamEvent: provider.StreamEvent{
		Type:         provider.EventFinish,
		FinishReason: reason,
		Usage:        &provider.Usage{PromptTokens: promptTokens, CompletionTokens: completionTokens},
	}}
}

// Fail returns a mid-stream error event.
func Fail(msg string, status int) Event {
	return Event{Error: msg, Status: status}
}

// Reply is a step answering with text and stopping.
func Reply(text string, promptTokens int) Step {
	return Step{Events: append(Text("t0", text), Finish(provider.FinishReasonStop, promptTokens, len(text)))}
}

// Retryable is a step failing with status and an optional retry-after
// hint in seconds.
func Retryable(status int, retryAfter time.Duration) Step {
	s := Step{Error: http.StatusText(status), Status: status}
	if retryAfter > 0 {
		s.RetryAfter = strconv.Itoa(int(retryAfter / time.Second))
	}
	return s
}
