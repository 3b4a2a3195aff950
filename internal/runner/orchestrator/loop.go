package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coda/internal/compaction"
	convo "coda/internal/message"
	"coda/internal/prompt"
	"coda/internal/provider"
	"coda/internal/retry"
	"coda/internal/runner/message"
	"coda/internal/runner/pipeline"
	"coda/internal/runner/types"
	"coda/internal/session"
	"coda/internal/stream"
	"coda/internal/tools"
	"coda/pkg/logger"
)

// eventBuffer is the capacity of the channel returned by Stream.
const eventBuffer = 100

// Loop 实现标准工具调用循环
type Loop struct {
	model     provider.Model
	registry  *tools.Registry
	pipeline  *pipeline.Pipeline
	builder   message.Builder
	compactor *compaction.Compactor
	config    Config
	logger    zerolog.Logger
}

// NewLoop 创建循环
func NewLoop(model provider.Model, registry *tools.Registry, pipe *pipeline.Pipeline, config Config) *Loop {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if pipe == nil {
		pipe = pipeline.New(pipeline.Config{Registry: registry})
	}
	return &Loop{
		model:    model,
		registry: registry,
		pipeline: pipe,
		builder:  message.NewStandardBuilder(),
		config:   config,
		logger:   logger.Component("loop"),
	}
}

// SetBuilder 设置请求构建器
func (l *Loop) SetBuilder(b message.Builder) {
	l.builder = b
}

// SetCompactor 设置压缩器
func (l *Loop) SetCompactor(c *compaction.Compactor) {
	l.compactor = c
}

// SetLogger sets a custom logger.
func (l *Loop) SetLogger(lg zerolog.Logger) {
	l.logger = lg
}

// Model returns the model the loop calls.
func (l *Loop) Model() provider.Model {
	return l.model
}

// Run executes one turn and returns its final text.
func (l *Loop) Run(ctx context.Context, request *RunRequest) (*RunResult, error) {
	if err := l.validate(request); err != nil {
		return nil, err
	}
	release, err := request.Session.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return l.turn(ctx, request, func(types.Event) {})
}

// Stream executes one turn in the background. The channel always ends with a
// done or an error event and is then closed; the caller must drain it.
// Intermediate events are dropped once ctx is done.
func (l *Loop) Stream(ctx context.Context, request *RunRequest) (<-chan types.Event, error) {
	if err := l.validate(request); err != nil {
		return nil, err
	}
	release, err := request.Session.Acquire()
	if err != nil {
		return nil, err
	}

	events := make(chan types.Event, eventBuffer)
	go func() {
		defer close(events)
		defer release()

		emit := func(ev types.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		res, err := l.turn(ctx, request, emit)
		if err != nil {
			ev := types.NewErrorEvent(err)
			ev.SessionID = request.Session.ID
			events <- ev
			return
		}
		usage := res.Usage
		done := types.NewDoneEvent(res.Text, &usage)
		done.SessionID = request.Session.ID
		done.Iteration = res.Iterations
		events <- done
	}()
	return events, nil
}

func (l *Loop) validate(request *RunRequest) error {
	if l.model == nil {
		return ErrNoModel
	}
	if request == nil || request.Session == nil {
		return errors.New("orchestrator: request has no session")
	}
	return nil
}

// turn runs iterations until the model answers without tool calls.
func (l *Loop) turn(ctx context.Context, request *RunRequest, emit func(types.Event)) (*RunResult, error) {
	sess := request.Session
	log := l.logger.With().Str("session_id", sess.ID).Int("depth", request.Depth).Logger()

	if request.UserInput != "" {
		sess.History.Append(convo.NewUser(request.UserInput))
	}

	mode := sess.Mode()
	ec := pipeline.ExecContext{SessionID: sess.ID, Mode: mode, Depth: request.Depth}

	registry := l.registry
	if mode == session.ModePlan {
		registry = registry.Filter(func(d tools.Definition) bool { return d.Permission.ReadOnly })
	}
	toolDefs, err := registry.ToProviderTools()
	if err != nil {
		return nil, err
	}
	extra, usedPlan := systemExtras(sess, mode)

	var total provider.Usage
	overflowed := false
	for iter := 1; ; iter++ {
		if l.config.MaxIterations > 0 && iter > l.config.MaxIterations {
			log.Warn().Int("max_iterations", l.config.MaxIterations).Msg("turn stopped")
			return nil, ErrMaxIterations
		}
		if err := ctx.Err(); err != nil {
			return nil, aborted(err)
		}

		history := sess.History.Messages()
		var seen []string
		if l.eagerPrune() {
			seen = compaction.Outputs(history)
		}

		req, err := l.builder.Build(ctx, &message.BuildRequest{
			SessionID: sess.ID,
			Model:     l.model.ID(),
			History:   history,
			Tools:     toolDefs,
			Extra:     extra,
			MaxTokens: l.config.MaxTokens,
		})
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, aborted(cerr)
			}
			return nil, err
		}

		em := emitter{fn: emit, sessionID: sess.ID, iteration: iter}
		st, err := l.call(ctx, req, ec, em, log)
		if err != nil && !overflowed && l.canCompactOverflow(st, err) {
			// one compaction and one more request per turn
			overflowed = true
			log.Warn().Err(err).Msg("context window exceeded, compacting history")
			if _, err := l.compactor.Compact(ctx, sess, true); err != nil {
				return nil, compactErr(err)
			}
			l.announceCompaction(sess, em, log)
			continue
		}
		if st != nil {
			if msg, ok := st.message(); ok {
				sess.History.Append(msg)
			}
		}
		if err != nil {
			return nil, err
		}

		if st.usage != nil {
			sess.SetUsage(*st.usage)
			total.Add(*st.usage)
		}
		if len(seen) > 0 {
			if n := compaction.MarkConsumed(sess.History, seen); n > 0 {
				log.Debug().Int("pruned", n).Msg("consumed tool outputs pruned")
			}
		}

		if len(st.calls) == 0 {
			text := st.visibleText()
			switch {
			case mode == session.ModePlan:
				sess.SetPendingPlan(text)
			case usedPlan:
				sess.SetPendingPlan("")
			}
			log.Info().Int("iterations", iter).Int("tokens", total.Count()).Msg("turn finished")
			return &RunResult{Text: text, Usage: total, Iterations: iter}, nil
		}

		if err := l.maybeCompact(ctx, sess, em, log); err != nil {
			return nil, err
		}
	}
}

func (l *Loop) eagerPrune() bool {
	if l.compactor == nil {
		return false
	}
	cfg := l.compactor.Config()
	return cfg.Prune && cfg.ToolOutputMode == compaction.AfterToolCall
}

// maybeCompact runs only after a response that requested tools, so history
// never holds a half-finished round.
func (l *Loop) maybeCompact(ctx context.Context, sess *session.Session, em emitter, log zerolog.Logger) error {
	if l.compactor == nil {
		return nil
	}
	ran, err := l.compactor.MaybeCompact(ctx, sess, l.model.Limits())
	if err != nil {
		return compactErr(err)
	}
	if ran {
		l.announceCompaction(sess, em, log)
	}
	return nil
}

// canCompactOverflow reports whether a failed call was rejected as too
// large before the model produced anything.
func (l *Loop) canCompactOverflow(st *step, err error) bool {
	if l.compactor == nil || errors.Is(err, ErrAborted) || !provider.IsContextWindowExceeded(err) {
		return false
	}
	return st == nil || !st.produced()
}

func (l *Loop) announceCompaction(sess *session.Session, em emitter, log zerolog.Logger) {
	summary := ""
	for _, m := range sess.History.Messages() {
		if m.Tag == convo.TagSummary {
			summary = m.Text()
		}
	}
	log.Info().Msg("history compacted mid-turn")
	em.send(types.NewCompactionEvent(summary, true))
}

func compactErr(err error) error {
	var cerr *compaction.Error
	if errors.As(err, &cerr) && cerr.Canceled() {
		return aborted(err)
	}
	return err
}

// call performs one model call, retrying transient failures.
func (l *Loop) call(ctx context.Context, req provider.ChatRequest, ec pipeline.ExecContext, em emitter, log zerolog.Logger) (*step, error) {
	policy := l.config.Retry
	for attempt := 1; ; attempt++ {
		st, err := l.attempt(ctx, req, ec, em)
		if err == nil {
			return st, nil
		}
		if st.aborted || ctx.Err() != nil {
			cause := ctx.Err()
			if cause == nil {
				cause = err
			}
			return st, aborted(cause)
		}

		reason := retry.Classify(err)
		if !policy.ShouldRetry(ctx, attempt, reason, st.produced()) {
			log.Error().Err(err).Int("attempt", attempt).Bool("produced", st.produced()).Msg("model call failed")
			return st, &ProviderFatalError{Attempts: attempt, Err: err}
		}

		delay := policy.Delay(attempt, reason)
		log.Warn().Err(err).
			Int("attempt", attempt).
			Str("reason", reason.Message).
			Dur("delay", delay).
			Msg("retrying model call")
		em.send(types.NewRetryEvent(attempt, reason.Message, delay))
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil, aborted(err)
		}
	}
}

// attempt streams one response, dispatching tool calls as they arrive.
func (l *Loop) attempt(ctx context.Context, req provider.ChatRequest, ec pipeline.ExecContext, em emitter) (*step, error) {
	st := &step{}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	raw, err := l.model.Stream(streamCtx, req)
	if err != nil {
		return st, err
	}

	for ev := range stream.Normalize(streamCtx, raw) {
		switch ev.Type {
		case provider.EventTextDelta:
			st.text.WriteString(ev.Delta)
			em.send(types.NewContentEvent(ev.Delta))
		case provider.EventReasoningDelta:
			st.reasoning.WriteString(ev.Delta)
			em.send(types.NewThinkingEvent(ev.Delta))
		case provider.EventToolCall:
			if ev.ToolCall == nil {
				continue
			}
			if err := l.dispatch(ctx, st, ev, ec, em); err != nil {
				st.aborted = true
				return st, err
			}
		case provider.EventToolResult, provider.EventToolError:
			st.attachProviderResult(ev)
		case provider.EventError:
			return st, ev.Err
		case provider.EventFinish:
			st.finished = true
			st.finish = ev.FinishReason
			st.usage = ev.Usage
			if ev.FinishReason == provider.FinishReasonLength {
				em.send(types.NewTruncatedEvent("output token limit reached"))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return st, err
	}
	if !st.finished {
		return st, &provider.StreamStateError{Err: io.ErrUnexpectedEOF}
	}
	return st, nil
}

// dispatch records a tool call and runs it through the pipeline. A repeated
// call id is ignored so no call runs twice.
func (l *Loop) dispatch(ctx context.Context, st *step, ev provider.StreamEvent, ec pipeline.ExecContext, em emitter) error {
	tc := *ev.ToolCall
	if tc.ID == "" {
		tc.ID = ev.ID
	}
	if tc.ID == "" {
		tc.ID = "call_" + uuid.NewString()
	}
	if st.index(tc.ID) >= 0 {
		return nil
	}

	em.send(types.NewToolCallEvent(tc))
	var input json.RawMessage
	if json.Valid([]byte(tc.Arguments)) {
		input = json.RawMessage(tc.Arguments)
	}
	st.calls = append(st.calls, convo.ToolCallPart(tc.ID, tc.Name, input))

	out := l.pipeline.Execute(ctx, tc.Name, tc.ID, tc.Arguments, ec)
	if out.Err != nil {
		return out.Err
	}
	if err := st.calls[len(st.calls)-1].SetOutput(convo.ToolOutput{Text: out.Text, IsError: out.Failed()}); err != nil {
		return fmt.Errorf("record output of %s: %w", tc.ID, err)
	}

	res := types.NewToolResultEvent(tc.ID, tc.Name, out.Text, out.Failed(), out.Duration.Milliseconds())
	res.ToolResult.Code = out.Result.Code
	em.send(res)
	return nil
}

// step accumulates one model response. Text and reasoning stay in private
// buffers until the response is final.
type step struct {
	text      strings.Builder
	reasoning strings.Builder
	calls     []convo.Part

	finished bool
	finish   string
	usage    *provider.Usage
	aborted  bool
}

func (s *step) produced() bool {
	return s.text.Len() > 0 || len(s.calls) > 0
}

func (s *step) index(callID string) int {
	for i, p := range s.calls {
		if p.CallID == callID {
			return i
		}
	}
	return -1
}

// attachProviderResult records the output of a tool the provider ran itself.
func (s *step) attachProviderResult(ev provider.StreamEvent) {
	id := ev.ID
	if ev.ToolCall != nil && ev.ToolCall.ID != "" {
		id = ev.ToolCall.ID
	}
	i := s.index(id)
	if i < 0 || s.calls[i].Output != nil {
		return
	}
	_ = s.calls[i].SetOutput(convo.ToolOutput{Text: ev.Output, IsError: ev.Type == provider.EventToolError})
}

func (s *step) visibleText() string {
	return stripControlTags(s.text.String())
}

// message builds the assistant message for history. It reports false when
// the response carried nothing worth keeping.
func (s *step) message() (convo.Message, bool) {
	var parts []convo.Part
	if r := strings.TrimSpace(s.reasoning.String()); r != "" {
		parts = append(parts, convo.ReasoningPart(r))
	}
	if t := s.visibleText(); t != "" {
		parts = append(parts, convo.TextPart(t))
	}
	parts = append(parts, s.calls...)
	if len(parts) == 0 {
		return convo.Message{}, false
	}
	return convo.New(convo.RoleAssistant, parts...), true
}

type emitter struct {
	fn        func(types.Event)
	sessionID string
	iteration int
}

func (e emitter) send(ev types.Event) {
	ev.SessionID = e.sessionID
	ev.Iteration = e.iteration
	e.fn(ev)
}

// systemExtras returns the mode-dependent system parts and whether a pending
// plan was injected.
func systemExtras(sess *session.Session, mode session.Mode) ([]string, bool) {
	if mode == session.ModePlan {
		return []string{prompt.PlanModePrompt}, false
	}
	if plan := sess.PendingPlan(); plan != "" {
		return []string{prompt.PendingPlanPrompt + plan}, true
	}
	return nil, false
}
