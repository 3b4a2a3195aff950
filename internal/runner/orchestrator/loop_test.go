package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"coda/internal/compaction"
	convo "coda/internal/message"
	"coda/internal/prompt"
	"coda/internal/provider"
	"coda/internal/provider/scripted"
	"coda/internal/retry"
	"coda/internal/runner/pipeline"
	"coda/internal/runner/types"
	"coda/internal/session"
	"coda/internal/tools"
	"coda/internal/tools/builtin"
	"coda/pkg/logger"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = retry.Policy{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		Factor:        2,
		MaxDelay:      5 * time.Millisecond,
		MaxRetryAfter: 10 * time.Millisecond,
	}
	return cfg
}

func newTestLoop(t *testing.T, model provider.Model, extra ...tools.Entry) *Loop {
	t.Helper()
	reg := tools.NewRegistry()
	builtin.MustRegisterBuiltins(reg)
	for _, e := range extra {
		reg.MustRegister(e)
	}
	pipe := pipeline.New(pipeline.Config{Registry: reg, Approve: pipeline.AutoApprove})
	pipe.SetLogger(logger.Nop())
	l := NewLoop(model, reg, pipe, testConfig())
	l.SetLogger(logger.Nop())
	return l
}

func echoCallStep() scripted.Step {
	return scripted.Step{Events: []scripted.Event{
		scripted.Call("call_1", "echo", `{"message":"hello"}`),
		scripted.Finish(provider.FinishReasonToolCalls, 20, 5),
	}}
}

func TestLoop_EchoRoundTrip(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{}, echoCallStep(), scripted.Reply("The tool said hello.", 40))
	l := newTestLoop(t, model)
	sess := session.New()

	res, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, "The tool said hello.", res.Text)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 20+5+40+len("The tool said hello."), res.Usage.Count())

	msgs := sess.History.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, convo.RoleUser, msgs[0].Role)
	assert.Equal(t, "echo hello", msgs[0].Text())

	calls := msgs[1].ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Tool)
	assert.Equal(t, convo.StateOutputAvailable, calls[0].State)
	require.NotNil(t, calls[0].Output)
	assert.Equal(t, "hello", calls[0].Output.Text)
	assert.False(t, calls[0].Output.IsError)

	assert.Equal(t, convo.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "The tool said hello.", msgs[2].Text())

	reqs := model.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "echo", reqs[0].Tools[0].Name)
	second := reqs[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, provider.RoleTool, second[2].Role)
	assert.Equal(t, "hello", second[2].Content)
	assert.Equal(t, "call_1", second[2].ToolCallID)

	assert.False(t, sess.Busy())
}

func TestLoop_StreamEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	model := scripted.NewModel("m", provider.Limits{}, echoCallStep(), scripted.Reply("done", 10))
	l := newTestLoop(t, model)
	sess := session.New()

	events, err := l.Stream(context.Background(), &RunRequest{Session: sess, UserInput: "go"})
	require.NoError(t, err)

	var got []types.EventType
	var last types.Event
	for ev := range events {
		got = append(got, ev.Type)
		assert.Equal(t, sess.ID, ev.SessionID)
		last = ev
	}

	want := []types.EventType{
		types.EventTypeToolCall,
		types.EventTypeToolResult,
		types.EventTypeContent,
		types.EventTypeDone,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "done", last.Content)
	assert.Equal(t, 2, last.Iteration)
	require.NotNil(t, last.Usage)
}

func TestLoop_SessionBusy(t *testing.T) {
	l := newTestLoop(t, scripted.NewModel("m", provider.Limits{}))
	sess := session.New()
	release, err := sess.Acquire()
	require.NoError(t, err)
	defer release()

	_, err = l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	_, err = l.Stream(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	assert.ErrorIs(t, err, session.ErrSessionBusy)
}

func TestLoop_RetriesTransientFailure(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Retryable(http.StatusServiceUnavailable, 0),
		scripted.Reply("recovered", 10),
	)
	l := newTestLoop(t, model)
	sess := session.New()

	events, err := l.Stream(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	require.NoError(t, err)

	var retries []*types.RetryEvent
	var done types.Event
	for ev := range events {
		switch ev.Type {
		case types.EventTypeRetry:
			retries = append(retries, ev.Retry)
		case types.EventTypeDone:
			done = ev
		}
	}

	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, retry.MsgOverloaded, retries[0].Message)
	assert.Equal(t, time.Millisecond, retries[0].Delay)
	assert.False(t, retries[0].NextRetry.IsZero())
	assert.Equal(t, "recovered", done.Content)
	assert.Len(t, model.Requests(), 2)
}

func TestLoop_RetryBudgetExhausted(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Retryable(http.StatusTooManyRequests, 0),
		scripted.Retryable(http.StatusTooManyRequests, 0),
		scripted.Retryable(http.StatusTooManyRequests, 0),
	)
	l := newTestLoop(t, model)

	_, err := l.Run(context.Background(), &RunRequest{Session: session.New(), UserInput: "hi"})
	var fatal *ProviderFatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 3, fatal.Attempts)
	assert.Equal(t, 0, model.Remaining())
}

func TestLoop_FatalProviderError(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Step{Error: "bad request", Status: http.StatusBadRequest},
		scripted.Reply("never", 1),
	)
	l := newTestLoop(t, model)
	sess := session.New()

	_, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	var fatal *ProviderFatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, fatal.Attempts)

	var pe *provider.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, 1, model.Remaining())
	assert.Equal(t, 1, sess.History.Len())
}

func TestLoop_NoRetryAfterTextProduced(t *testing.T) {
	events := append(scripted.Text("t0", "partial answer"), scripted.Fail("overloaded", http.StatusServiceUnavailable))
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Step{Events: events},
		scripted.Reply("never", 1),
	)
	l := newTestLoop(t, model)
	sess := session.New()

	_, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	var fatal *ProviderFatalError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, model.Remaining())

	last, ok := sess.History.Last()
	require.True(t, ok)
	assert.Equal(t, "partial answer", last.Text())
}

func TestLoop_StreamWithoutFinishIsRetried(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Step{Events: []scripted.Event{{StreamEvent: provider.StreamEvent{Type: provider.EventReasoningDelta, ID: "r", Delta: "hmm"}}}},
		scripted.Reply("ok", 1),
	)
	l := newTestLoop(t, model)

	res, err := l.Run(context.Background(), &RunRequest{Session: session.New(), UserInput: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}

func blockingTool(started chan<- struct{}) tools.Entry {
	return tools.Entry{
		Definition: tools.Definition{ID: "wait", Permission: tools.Permission{ReadOnly: true}},
		Handler: func(ctx context.Context, _ map[string]any) (tools.Result, error) {
			close(started)
			<-ctx.Done()
			return tools.Result{}, ctx.Err()
		},
	}
}

func TestLoop_CancelDuringTool(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Step{Events: []scripted.Event{
			scripted.Call("call_w", "wait", `{}`),
			scripted.Finish(provider.FinishReasonToolCalls, 1, 1),
		}},
	)
	l := newTestLoop(t, model, blockingTool(started))
	sess := session.New()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := l.Run(ctx, &RunRequest{Session: sess, UserInput: "wait"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)

	msgs := sess.History.Messages()
	require.Len(t, msgs, 2)
	calls := msgs[1].ToolCalls()
	require.Len(t, calls, 1)
	assert.Nil(t, calls[0].Output)
	assert.False(t, sess.Busy())
}

func TestLoop_StreamCanceledEndsWithError(t *testing.T) {
	defer goleak.VerifyNone(t)

	for i := 0; i < 20; i++ {
		started := make(chan struct{})
		model := scripted.NewModel("m", provider.Limits{},
			scripted.Step{Events: []scripted.Event{
				scripted.Call("call_w", "wait", `{}`),
				scripted.Finish(provider.FinishReasonToolCalls, 1, 1),
			}},
		)
		l := newTestLoop(t, model, blockingTool(started))

		ctx, cancel := context.WithCancel(context.Background())
		events, err := l.Stream(ctx, &RunRequest{Session: session.New(), UserInput: "wait"})
		require.NoError(t, err)
		<-started
		cancel()

		var last types.Event
		for ev := range events {
			last = ev
		}
		require.Equal(t, types.EventTypeError, last.Type, "run %d", i)
		assert.ErrorIs(t, last.Error, ErrAborted)
	}
}

func TestLoop_CanceledBeforeStart(t *testing.T) {
	l := newTestLoop(t, scripted.NewModel("m", provider.Limits{}, scripted.Reply("x", 1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Run(ctx, &RunRequest{Session: session.New(), UserInput: "hi"})
	assert.ErrorIs(t, err, ErrAborted)
}

func TestLoop_BlockedToolContinuesTurn(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Step{Events: []scripted.Event{
			scripted.Call("c1", "echo", `{}`),
			scripted.Call("c2", "missing", `{}`),
			scripted.Finish(provider.FinishReasonToolCalls, 1, 1),
		}},
		scripted.Reply("sorry", 1),
	)
	l := newTestLoop(t, model)
	sess := session.New()

	res, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.Text)

	calls := sess.History.Messages()[1].ToolCalls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		require.NotNil(t, c.Output)
		assert.True(t, c.Output.IsError)
		assert.Contains(t, c.Output.Text, string(pipeline.KindValidation))
	}
}

func TestLoop_DuplicateCallIDRunsOnce(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Step{Events: []scripted.Event{
			scripted.Call("c1", "echo", `{"message":"a"}`),
			scripted.Call("c1", "echo", `{"message":"a"}`),
			scripted.Finish(provider.FinishReasonToolCalls, 1, 1),
		}},
		scripted.Reply("ok", 1),
	)
	l := newTestLoop(t, model)
	sess := session.New()

	_, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	require.NoError(t, err)
	assert.Len(t, sess.History.Messages()[1].ToolCalls(), 1)
}

func TestLoop_MaxIterations(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{}, echoCallStep(), echoCallStep())
	l := newTestLoop(t, model)
	l.config.MaxIterations = 1

	_, err := l.Run(context.Background(), &RunRequest{Session: session.New(), UserInput: "hi"})
	assert.ErrorIs(t, err, ErrMaxIterations)
}

func TestLoop_PlanMode(t *testing.T) {
	write := tools.Entry{
		Definition: tools.Definition{ID: "write"},
		Handler: func(context.Context, map[string]any) (tools.Result, error) {
			return tools.Success("written"), nil
		},
	}
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Reply("1. edit main.go", 5),
		scripted.Reply("implemented", 5),
	)
	l := newTestLoop(t, model, write)
	sess := session.New()
	require.NoError(t, sess.SetMode(session.ModePlan))

	res, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "plan it"})
	require.NoError(t, err)
	assert.Equal(t, "1. edit main.go", sess.PendingPlan())
	assert.Equal(t, res.Text, sess.PendingPlan())

	first := model.Requests()[0]
	require.Len(t, first.Tools, 1)
	assert.Equal(t, "echo", first.Tools[0].Name)
	assert.Contains(t, first.System, prompt.PlanModePrompt)

	require.NoError(t, sess.SetMode(session.ModeBuild))
	_, err = l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "go ahead"})
	require.NoError(t, err)

	second := model.Requests()[1]
	assert.Len(t, second.Tools, 2)
	assert.Contains(t, second.System, prompt.PendingPlanPrompt+"1. edit main.go")
	assert.Empty(t, sess.PendingPlan())
}

func TestLoop_CompactsAfterToolCalls(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{Context: 100, Output: 10},
		scripted.Step{Events: []scripted.Event{
			scripted.Call("call_1", "echo", `{"message":"hello"}`),
			scripted.Finish(provider.FinishReasonToolCalls, 200, 5),
		}},
		scripted.Reply("continuing", 10),
	)
	summarizer := scripted.NewModel("s", provider.Limits{}, scripted.Reply("We echoed hello.", 1))

	l := newTestLoop(t, model)
	cfg := compaction.DefaultConfig()
	cfg.ReservedOutputTokens = 0
	c := compaction.NewCompactor(cfg, summarizer)
	c.SetLogger(logger.Nop())
	l.SetCompactor(c)

	sess := session.New()
	events, err := l.Stream(context.Background(), &RunRequest{Session: sess, UserInput: "echo hello"})
	require.NoError(t, err)

	var compacted *types.CompactionEvent
	for ev := range events {
		if ev.Type == types.EventTypeCompaction {
			compacted = ev.Compaction
		}
		if ev.Type == types.EventTypeError {
			t.Fatalf("unexpected error: %v", ev.Error)
		}
	}
	require.NotNil(t, compacted)
	assert.Equal(t, "We echoed hello.", compacted.Summary)
	assert.True(t, compacted.Auto)

	msgs := sess.History.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, convo.TagCompaction, msgs[0].Tag)
	assert.Equal(t, convo.TagSummary, msgs[1].Tag)
	assert.Equal(t, convo.TagContinuation, msgs[2].Tag)
	assert.Equal(t, "continuing", msgs[3].Text())

	after := model.Requests()[1].Messages
	require.Len(t, after, 3)
	assert.Equal(t, compaction.MarkerText, after[0].Content)
}

func TestLoop_CompactionFailureSurfaces(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{Context: 100, Output: 10},
		scripted.Step{Events: []scripted.Event{
			scripted.Call("call_1", "echo", `{"message":"hello"}`),
			scripted.Finish(provider.FinishReasonToolCalls, 200, 5),
		}},
	)
	summarizer := scripted.NewModel("s", provider.Limits{}, scripted.Step{Error: "summarizer down"})

	l := newTestLoop(t, model)
	cfg := compaction.DefaultConfig()
	cfg.ReservedOutputTokens = 0
	c := compaction.NewCompactor(cfg, summarizer)
	c.SetLogger(logger.Nop())
	l.SetCompactor(c)

	sess := session.New()
	_, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "echo hello"})
	var cerr *compaction.Error
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.Canceled())

	msgs := sess.History.Messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.NotEqual(t, convo.TagCompaction, m.Tag)
	}
}

func TestLoop_ContextOverflowCompactsAndRetries(t *testing.T) {
	tooLarge := scripted.Step{Error: "maximum context length is 8192 tokens", Status: http.StatusBadRequest}

	tests := []struct {
		name      string
		steps     []scripted.Step
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "retried once after compaction",
			steps:     []scripted.Step{tooLarge, scripted.Reply("short again", 5)},
			wantCalls: 2,
		},
		{
			name:      "second overflow is fatal",
			steps:     []scripted.Step{tooLarge, tooLarge},
			wantErr:   true,
			wantCalls: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := scripted.NewModel("m", provider.Limits{}, tt.steps...)
			summarizer := scripted.NewModel("s", provider.Limits{}, scripted.Reply("Earlier talk.", 1))
			l := newTestLoop(t, model)
			c := compaction.NewCompactor(compaction.DefaultConfig(), summarizer)
			c.SetLogger(logger.Nop())
			l.SetCompactor(c)

			sess := session.New()
			res, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
			assert.Len(t, model.Requests(), tt.wantCalls)
			assert.Len(t, summarizer.Requests(), 1)

			msgs := sess.History.Messages()
			require.GreaterOrEqual(t, len(msgs), 3)
			assert.Equal(t, convo.TagCompaction, msgs[0].Tag)
			assert.Equal(t, convo.TagSummary, msgs[1].Tag)
			if tt.wantErr {
				var fatal *ProviderFatalError
				require.ErrorAs(t, err, &fatal)
				assert.True(t, provider.IsContextWindowExceeded(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "short again", res.Text)
		})
	}
}

func TestLoop_ContextOverflowWithoutCompactorFails(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Step{Error: "context length exceeded", Status: http.StatusBadRequest},
	)
	l := newTestLoop(t, model)

	_, err := l.Run(context.Background(), &RunRequest{Session: session.New(), UserInput: "hi"})
	var fatal *ProviderFatalError
	require.ErrorAs(t, err, &fatal)
	assert.Len(t, model.Requests(), 1)
}

func TestLoop_EagerPruneMarksConsumedOutputs(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{}, echoCallStep(), scripted.Reply("done", 1))
	l := newTestLoop(t, model)
	cfg := compaction.DefaultConfig()
	cfg.Auto = false
	cfg.ToolOutputMode = compaction.AfterToolCall
	c := compaction.NewCompactor(cfg, nil)
	c.SetLogger(logger.Nop())
	l.SetCompactor(c)

	sess := session.New()
	_, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	require.NoError(t, err)

	// the second request still carried the full output
	assert.Equal(t, "hello", model.Requests()[1].Messages[2].Content)

	out := sess.History.Messages()[1].ToolCalls()[0].Output
	require.NotNil(t, out)
	assert.True(t, out.Compacted)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, convo.CompactedPlaceholder, out.ModelText())
}

func TestLoop_StripsControlTags(t *testing.T) {
	model := scripted.NewModel("m", provider.Limits{},
		scripted.Reply("<think>internal</think>Answer<|im_end|>", 1),
	)
	l := newTestLoop(t, model)
	sess := session.New()

	res, err := l.Run(context.Background(), &RunRequest{Session: sess, UserInput: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Answer", res.Text)
	last, _ := sess.History.Last()
	assert.Equal(t, "Answer", last.Text())
}

func TestStripControlTags(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"<think>a\nb</think>\nvisible", "visible"},
		{"before <think>never closed", "before"},
		{"stray </think> close", "stray  close"},
		{"<|im_start|>assistant text<|im_end|>", "assistant text"},
		{"a <b>not a tag</b>", "a <b>not a tag</b>"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, stripControlTags(tt.in))
		})
	}
}

func TestErrors(t *testing.T) {
	err := aborted(context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Same(t, err, aborted(err))

	fatal := &ProviderFatalError{Attempts: 2, Err: errors.New("boom")}
	assert.True(t, strings.Contains(fatal.Error(), "2 attempt"))
	assert.EqualError(t, errors.Unwrap(fatal), "boom")
}

func TestLoop_RequiresModel(t *testing.T) {
	l := NewLoop(nil, nil, nil, DefaultConfig())
	_, err := l.Run(context.Background(), &RunRequest{Session: session.New()})
	assert.ErrorIs(t, err, ErrNoModel)
}
