package session

import (
	"encoding/json"
	"fmt"

	"coda/internal/message"
)

// Snapshot is the host-persisted form of a session.
type Snapshot struct {
	ID              string            `json:"id"`
	Mode            Mode              `json:"mode,omitempty"`
	History         []message.Message `json:"history"`
	PendingPlan     string            `json:"pendingPlan,omitempty"`
	Handles         json.RawMessage   `json:"handles,omitempty"`
	MentionedSkills []string          `json:"mentionedSkills,omitempty"`
}

// Snapshot captures the session state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:              s.ID,
		Mode:            s.Mode(),
		History:         s.History.Messages(),
		PendingPlan:     s.PendingPlan(),
		Handles:         s.Handles(),
		MentionedSkills: s.MentionedSkills(),
	}
}

// Export encodes the session as JSON.
func (s *Session) Export() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// FromSnapshot rebuilds a session. A missing id gets a fresh one and a
// missing mode defaults to build.
func FromSnapshot(snap Snapshot) (*Session, error) {
	s := New()
	if snap.ID != "" {
		s.ID = snap.ID
	}
	if snap.Mode != "" {
		if err := s.SetMode(snap.Mode); err != nil {
			return nil, err
		}
	}
	s.History.Replace(snap.History)
	s.pendingPlan = snap.PendingPlan
	s.handles = append(json.RawMessage(nil), snap.Handles...)
	s.mentionedSkills = append([]string(nil), snap.MentionedSkills...)
	return s, nil
}

// Import decodes a session exported with Export.
func Import(data []byte) (*Session, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("session: decode snapshot: %w", err)
	}
	return FromSnapshot(snap)
}
