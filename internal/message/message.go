// Package message defines the structured conversation model: messages made of
// ordered parts, and the per-session history that owns them.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role of a message author. System content never lives in history; it is
// injected at request time.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tag marks messages written by the loop itself rather than the user or model.
type Tag string

const (
	TagNone         Tag = ""
	TagCompaction   Tag = "compaction"
	TagSummary      Tag = "summary"
	TagContinuation Tag = "continuation"
	TagMemory       Tag = "memory"
)

// PartKind discriminates Part variants.
type PartKind string

const (
	PartText      PartKind = "text"
	PartReasoning PartKind = "reasoning"
	PartToolCall  PartKind = "tool-call"
)

// ToolState is the lifecycle state of a tool-call part. States only advance.
type ToolState string

const (
	StateInputStreaming  ToolState = "input-streaming"
	StateInputAvailable  ToolState = "input-available"
	StateOutputAvailable ToolState = "output-available"
)

func (s ToolState) rank() int {
	switch s {
	case StateInputStreaming:
		return 0
	case StateInputAvailable:
		return 1
	case StateOutputAvailable:
		return 2
	}
	return -1
}

var (
	// ErrStateRegression is returned when a tool-call part would move backwards.
	ErrStateRegression = errors.New("message: tool state cannot move backwards")
	// ErrOutputSet is returned when a tool-call output is written twice.
	ErrOutputSet = errors.New("message: tool output already set")
	// ErrNotToolCall is returned by tool-call operations on other part kinds.
	ErrNotToolCall = errors.New("message: part is not a tool call")
)

// CompactedPlaceholder replaces a compacted tool output in the model-facing view.
const CompactedPlaceholder = "[Old tool result content cleared]"

// ToolOutput is the recorded result of a tool call.
type ToolOutput struct {
	Text      string `json:"text"`
	IsError   bool   `json:"isError,omitempty"`
	Compacted bool   `json:"compacted,omitempty"`
}

// ModelText is the output as the model sees it. Text itself is kept for display.
func (o ToolOutput) ModelText() string {
	if o.Compacted {
		return CompactedPlaceholder
	}
	return o.Text
}

// Part is one element of a message.
type Part struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text,omitempty"`

	// tool-call fields
	CallID string          `json:"callId,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	State  ToolState       `json:"state,omitempty"`
	Output *ToolOutput     `json:"output,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ReasoningPart returns a reasoning part.
func ReasoningPart(text string) Part {
	return Part{Kind: PartReasoning, Text: text}
}

// ToolCallPart returns a tool-call part whose input is fully available.
func ToolCallPart(callID, tool string, input json.RawMessage) Part {
	return Part{Kind: PartToolCall, CallID: callID, Tool: tool, Input: input, State: StateInputAvailable}
}

// Advance moves a tool-call part to state. Moving backwards is an error;
// staying in the same state is a no-op.
func (p *Part) Advance(state ToolState) error {
	if p.Kind != PartToolCall {
		return ErrNotToolCall
	}
	if state.rank() < p.State.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrStateRegression, p.State, state)
	}
	p.State = state
	return nil
}

// SetOutput records the tool result and moves the part to output-available.
// The output is immutable afterwards apart from the compacted flag.
func (p *Part) SetOutput(out ToolOutput) error {
	if p.Kind != PartToolCall {
		return ErrNotToolCall
	}
	if p.Output != nil {
		return ErrOutputSet
	}
	if err := p.Advance(StateOutputAvailable); err != nil {
		return err
	}
	p.Output = &out
	return nil
}

// Message is one entry of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Tag       Tag       `json:"tag,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// New builds a message with a fresh id.
func New(role Role, parts ...Part) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     parts,
		CreatedAt: time.Now(),
	}
}

// NewUser builds a user message holding a single text part.
func NewUser(text string) Message {
	return New(RoleUser, TextPart(text))
}

// WithTag returns m tagged with tag.
func (m Message) WithTag(tag Tag) Message {
	m.Tag = tag
	return m
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts of the message.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	c := m
	c.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		if p.Output != nil {
			out := *p.Output
			p.Output = &out
		}
		if p.Input != nil {
			p.Input = append(json.RawMessage(nil), p.Input...)
		}
		c.Parts[i] = p
	}
	return c
}
