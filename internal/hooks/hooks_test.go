package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coda/pkg/logger"
)

func handler(id string, prio int, fn HandlerFunc) *Handler {
	return &Handler{ID: id, Priority: prio, Handler: fn, Enabled: true}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(HookBeforeToolCall, handler("low", 0, nil)))
	require.NoError(t, r.Register(HookBeforeToolCall, handler("high", 10, nil)))

	assert.ErrorIs(t, r.Register(HookBeforeToolCall, handler("low", 0, nil)), ErrHandlerExists)
	assert.ErrorIs(t, r.Register("bogus", handler("x", 0, nil)), ErrHookTypeInvalid)
	assert.ErrorIs(t, r.Register(HookBeforeToolCall, &Handler{}), ErrHandlerNotFound)

	hs := r.GetHandlers(HookBeforeToolCall)
	require.Len(t, hs, 2)
	assert.Equal(t, "high", hs[0].ID)

	require.NoError(t, r.Unregister(HookBeforeToolCall, "high"))
	assert.ErrorIs(t, r.Unregister(HookBeforeToolCall, "high"), ErrHandlerNotFound)
	assert.Equal(t, 1, r.Count())
	assert.False(t, r.HasHandlers(HookAfterToolCall))
}

func TestBeforeToolCallChain(t *testing.T) {
	m := NewManager()
	m.SetLogger(logger.Nop())

	require.NoError(t, m.Register(HookBeforeToolCall, handler("rewrite", 10, func(_ context.Context, h *Context) (*Result, error) {
		p := map[string]any{"path": "rewritten.txt"}
		return ModifiedResult(p), nil
	})))
	require.NoError(t, m.Register(HookBeforeToolCall, handler("observe", 0, func(_ context.Context, h *Context) (*Result, error) {
		assert.Equal(t, "rewritten.txt", h.ToolCall.Params["path"])
		return &Result{Continue: true, SkipApproval: true}, nil
	})))

	orig := map[string]any{"path": "orig.txt"}
	res, err := m.TriggerBeforeToolCall(context.Background(), "s1", ToolCallContext{ID: "c1", ToolName: "read", Params: orig})
	require.NoError(t, err)
	assert.True(t, res.Continue)
	assert.True(t, res.Modified)
	assert.True(t, res.SkipApproval)
	assert.Equal(t, "rewritten.txt", res.Params["path"])
	assert.Equal(t, "orig.txt", orig["path"])
}

func TestChainStopsAndRecoversPanics(t *testing.T) {
	m := NewManager()
	m.SetLogger(logger.Nop())
	called := false

	require.NoError(t, m.Register(HookBeforeToolCall, handler("panics", 20, func(context.Context, *Context) (*Result, error) {
		panic("boom")
	})))
	require.NoError(t, m.Register(HookBeforeToolCall, handler("block", 10, func(context.Context, *Context) (*Result, error) {
		return StopResult("not on fridays"), nil
	})))
	require.NoError(t, m.Register(HookBeforeToolCall, handler("after", 0, func(context.Context, *Context) (*Result, error) {
		called = true
		return ContinueResult(), nil
	})))

	res, err := m.TriggerBeforeToolCall(context.Background(), "s1", ToolCallContext{ToolName: "bash"})
	require.NoError(t, err)
	assert.False(t, res.Continue)
	assert.Equal(t, "not on fridays", res.Reason)
	assert.False(t, called)
}

func TestTriggerWithoutHandlers(t *testing.T) {
	m := NewManager()
	res, err := m.TriggerAfterToolCall(context.Background(), "s1", ToolCallContext{ToolName: "echo"}, "ok", "", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Continue)

	_, err = m.Trigger(context.Background(), &Context{Type: "nope"})
	assert.ErrorIs(t, err, ErrHookTypeInvalid)
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hook.js")
	require.NoError(t, os.WriteFile(p, []byte(src), 0o600))
	return p
}

func TestScriptHandlerRewritesParams(t *testing.T) {
	path := writeScript(t, `
function handler(ctx) {
  console.log("tool", ctx.tool_call.tool_name);
  if (ctx.tool_call.tool_name !== "echo") { return; }
  return { params: { message: ctx.tool_call.params.message.toUpperCase() } };
}`)

	m := NewManager()
	m.SetLogger(logger.Nop())
	require.NoError(t, m.LoadScripts([]ScriptSpec{{Path: path}}))

	res, err := m.TriggerBeforeToolCall(context.Background(), "s1", ToolCallContext{
		ToolName: "echo", Params: map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	assert.True(t, res.Continue)
	assert.True(t, res.Modified)
	assert.Equal(t, "HI", res.Params["message"])

	res, err = m.TriggerBeforeToolCall(context.Background(), "s1", ToolCallContext{ToolName: "read"})
	require.NoError(t, err)
	assert.True(t, res.Continue)
	assert.False(t, res.Modified)
}

func TestScriptHandlerBlocks(t *testing.T) {
	path := writeScript(t, `function handler(ctx) { return { continue: false, reason: "blocked by script" }; }`)
	h, err := NewScriptHandler(ScriptSpec{Path: path}, logger.Nop())
	require.NoError(t, err)

	res, err := h.Handler(context.Background(), NewContext(HookBeforeToolCall))
	require.NoError(t, err)
	assert.False(t, res.Continue)
	assert.Equal(t, "blocked by script", res.Reason)
}

func TestScriptHandlerErrors(t *testing.T) {
	_, err := NewScriptHandler(ScriptSpec{Path: writeScript(t, "function handler( {")}, logger.Nop())
	assert.ErrorIs(t, err, ErrScript)

	h, err := NewScriptHandler(ScriptSpec{Path: writeScript(t, "var x = 1;")}, logger.Nop())
	require.NoError(t, err)
	_, err = h.Handler(context.Background(), NewContext(HookBeforeToolCall))
	assert.ErrorIs(t, err, ErrScript)

	h, err = NewScriptHandler(ScriptSpec{
		Path:    writeScript(t, "function handler(ctx) { for (;;) {} }"),
		Timeout: 50 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, err)
	_, err = h.Handler(context.Background(), NewContext(HookBeforeToolCall))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
}
