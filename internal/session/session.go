// Package session holds per-conversation state: history, mode, pending plan
// and last-turn usage, plus the snapshot format hosts persist.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"coda/internal/message"
	"coda/internal/provider"
)

// Mode selects what a turn may do.
type Mode string

const (
	// ModeBuild allows every tool the policy permits.
	ModeBuild Mode = "build"
	// ModePlan restricts the turn to read-only tools and records its answer as a plan.
	ModePlan Mode = "plan"
)

// ErrSessionBusy is returned when a turn is started on a session that is
// already running one.
var ErrSessionBusy = errors.New("session: a turn is already in progress")

// Session is one conversation. Its history has a single writer: the loop
// holding the turn lock.
type Session struct {
	ID      string
	History *message.History

	mu              sync.RWMutex
	mode            Mode
	pendingPlan     string
	usage           provider.Usage
	mentionedSkills []string
	handles         json.RawMessage

	busy atomic.Bool
}

// New creates an empty build-mode session.
func New() *Session {
	return &Session{
		ID:      uuid.NewString(),
		History: message.NewHistory(),
		mode:    ModeBuild,
	}
}

// Acquire takes the turn lock. The returned func releases it.
func (s *Session) Acquire() (func(), error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrSessionBusy
	}
	var once sync.Once
	return func() { once.Do(func() { s.busy.Store(false) }) }, nil
}

// Busy reports whether a turn is in progress.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches the mode. Unknown modes are rejected.
func (s *Session) SetMode(m Mode) error {
	if m != ModeBuild && m != ModePlan {
		return fmt.Errorf("session: unknown mode %q", m)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	return nil
}

// PendingPlan returns the plan produced by the last plan-mode turn.
func (s *Session) PendingPlan() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingPlan
}

// SetPendingPlan stores or clears (empty string) the pending plan.
func (s *Session) SetPendingPlan(plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPlan = plan
}

// Usage returns the token usage of the last model call.
func (s *Session) Usage() provider.Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

// SetUsage records the token usage of the last model call.
func (s *Session) SetUsage(u provider.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = u
}

// MentionSkill records a skill name once.
func (s *Session) MentionSkill(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.mentionedSkills {
		if n == name {
			return
		}
	}
	s.mentionedSkills = append(s.mentionedSkills, name)
}

// MentionedSkills returns the skills referenced in this session.
func (s *Session) MentionedSkills() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.mentionedSkills...)
}

// Handles returns the exported state of the host's handle registry.
func (s *Session) Handles() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(json.RawMessage(nil), s.handles...)
}

// SetHandles stores the exported state of the host's handle registry.
func (s *Session) SetHandles(state json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = append(json.RawMessage(nil), state...)
}

// Child returns a distinct session for a sub-agent. It shares nothing with s.
func (s *Session) Child() *Session {
	c := New()
	c.mode = s.Mode()
	return c
}
