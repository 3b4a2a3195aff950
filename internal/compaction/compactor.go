package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"coda/internal/message"
	"coda/internal/provider"
	"coda/internal/session"
	"coda/pkg/logger"
)

const summarySystem = `You are a helpful AI assistant tasked with summarizing conversations.`

const summaryPrompt = `Provide a detailed summary of the conversation above so that work can continue in a new context. Focus on:
1. What was done so far
2. Which files are being worked on
3. Key decisions and the reasons for them
4. What remains to be done next

Conversation to summarize:
%s

Provide the summary:`

// MarkerText is the user-side text of a compaction boundary.
const MarkerText = "What did we do so far?"

// ContinuationText is appended after an automatic compaction.
const ContinuationText = "Continue if you have next steps, or stop and ask for clarification if you are unsure how to proceed."

// NoteWriter stores summaries durably.
type NoteWriter interface {
	AppendNote(ctx context.Context, sessionID, content string) error
}

// Compactor summarizes a session's history with a dedicated model call.
type Compactor struct {
	config Config
	model  provider.Model
	notes  NoteWriter
	logger zerolog.Logger
}

// NewCompactor creates a new Compactor.
func NewCompactor(config Config, model provider.Model) *Compactor {
	return &Compactor{
		config: config,
		model:  model,
		logger: logger.Component("compaction"),
	}
}

// SetNoteWriter sets the memory note store.
func (c *Compactor) SetNoteWriter(n NoteWriter) {
	c.notes = n
}

// SetLogger sets a custom logger.
func (c *Compactor) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// Config returns the compactor's configuration.
func (c *Compactor) Config() Config {
	return c.config
}

// NeedsCompaction reports whether the session's last usage overflows limits.
func (c *Compactor) NeedsCompaction(sess *session.Session, limits provider.Limits) bool {
	return IsOverflow(sess.Usage(), limits, c.config.ReservedOutputTokens)
}

// MaybeCompact compacts only when the session's usage overflows limits.
// It reports whether compaction ran.
func (c *Compactor) MaybeCompact(ctx context.Context, sess *session.Session, limits provider.Limits) (bool, error) {
	if !c.config.Auto || !c.NeedsCompaction(sess, limits) {
		return false, nil
	}
	if _, err := c.Compact(ctx, sess, true); err != nil {
		return false, err
	}
	return true, nil
}

// Compact replaces the session history with a summary.
//
// A boundary marker is pushed, the pruned history is summarized at zero
// temperature, and history is cut to the slice starting at the marker:
// marker, summary and, when auto is set, a continuation prompt. On failure
// history is restored exactly as it was and an *Error is returned.
func (c *Compactor) Compact(ctx context.Context, sess *session.Session, auto bool) (string, error) {
	if c.model == nil {
		return "", &Error{Err: ErrNoModel}
	}
	h := sess.History
	before := h.Messages()

	marker := message.NewUser(MarkerText).WithTag(message.TagCompaction)
	h.Append(marker)

	if c.config.Prune && c.config.ToolOutputMode == OnCompaction {
		if n := Prune(h, c.config); n > 0 {
			c.logger.Debug().Str("session_id", sess.ID).Int("pruned", n).Msg("pruned tool outputs")
		}
	}

	summary, err := c.summarize(ctx, h.Messages())
	if err != nil {
		h.Replace(before)
		cerr := &Error{Err: err}
		lvl := zerolog.WarnLevel
		if cerr.Canceled() {
			lvl = zerolog.DebugLevel
		}
		c.logger.WithLevel(lvl).Err(err).Str("session_id", sess.ID).Msg("compaction rolled back")
		return "", cerr
	}

	if c.config.MemoryNote && c.notes != nil {
		if err := c.notes.AppendNote(ctx, sess.ID, summary); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to append memory note")
		}
	}

	h.Append(message.New(message.RoleAssistant, message.TextPart(summary)).WithTag(message.TagSummary))
	if auto {
		h.Append(message.NewUser(ContinuationText).WithTag(message.TagContinuation))
	}

	msgs := h.Messages()
	idx := h.IndexOf(marker.ID)
	h.Replace(msgs[idx:])
	sess.SetUsage(provider.Usage{})

	c.logger.Info().
		Str("session_id", sess.ID).
		Int("messages_before", len(before)).
		Int("messages_after", len(msgs)-idx).
		Bool("auto", auto).
		Msg("history compacted")
	return summary, nil
}

func (c *Compactor) summarize(ctx context.Context, msgs []message.Message) (string, error) {
	zero := 0.0
	req := provider.ChatRequest{
		Model:       c.model.ID(),
		System:      []string{summarySystem},
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: fmt.Sprintf(summaryPrompt, Transcript(msgs))}},
		Temperature: &zero,
	}
	events, err := c.model.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	resp, err := provider.Collect(ctx, events)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}

// Transcript renders messages as plain text for summarization. Compaction
// markers are skipped and compacted outputs show their placeholder.
func Transcript(msgs []message.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Tag == message.TagCompaction {
			continue
		}
		for _, p := range m.Parts {
			switch p.Kind {
			case message.PartText:
				fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, p.Text)
			case message.PartToolCall:
				fmt.Fprintf(&sb, "[tool call %s %s]\n", p.Tool, string(p.Input))
				if p.Output != nil {
					fmt.Fprintf(&sb, "[tool result]: %s\n", p.Output.ModelText())
				}
			}
		}
	}
	return sb.String()
}
