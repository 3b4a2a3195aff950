package message

import (
	"encoding/json"
	"sync"
)

// History is an ordered, concurrency-safe list of messages owned by one session.
type History struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewHistory returns a history seeded with msgs.
func NewHistory(msgs ...Message) *History {
	h := &History{}
	for _, m := range msgs {
		h.msgs = append(h.msgs, m.Clone())
	}
	return h
}

// Append adds messages at the end.
func (h *History) Append(msgs ...Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.msgs = append(h.msgs, m.Clone())
	}
}

// Messages returns a deep copy of the history.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Last returns the last message, if any.
func (h *History) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.msgs) == 0 {
		return Message{}, false
	}
	return h.msgs[len(h.msgs)-1].Clone(), true
}

// IndexOf returns the position of the message with id, or -1.
func (h *History) IndexOf(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.indexOf(id)
}

func (h *History) indexOf(id string) int {
	for i, m := range h.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Remove deletes the message with id. It reports whether a message was removed.
func (h *History) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexOf(id)
	if i < 0 {
		return false
	}
	h.msgs = append(h.msgs[:i], h.msgs[i+1:]...)
	return true
}

// Replace swaps the whole history for msgs.
func (h *History) Replace(msgs []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		h.msgs = append(h.msgs, m.Clone())
	}
}

// MarkCompacted sets the compacted flag on the output of the tool call with
// callID. It reports whether the flag changed.
func (h *History) MarkCompacted(callID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.msgs {
		for j := range h.msgs[i].Parts {
			p := &h.msgs[i].Parts[j]
			if p.Kind == PartToolCall && p.CallID == callID && p.Output != nil {
				if p.Output.Compacted {
					return false
				}
				p.Output.Compacted = true
				return true
			}
		}
	}
	return false
}

// MarshalJSON encodes the history as a message array.
func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Messages())
}

// UnmarshalJSON decodes a message array into the history.
func (h *History) UnmarshalJSON(data []byte) error {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	h.Replace(msgs)
	return nil
}
