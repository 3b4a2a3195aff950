package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coda/internal/hooks"
	"coda/internal/policy"
	"coda/internal/policy/approval"
	"coda/internal/session"
	"coda/internal/tools"
	"coda/pkg/logger"
)

type fixture struct {
	reg   *tools.Registry
	calls map[string]*atomic.Int32
	root  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{reg: tools.NewRegistry(), calls: map[string]*atomic.Int32{}, root: t.TempDir()}

	add := func(def tools.Definition, h tools.Handler) {
		n := &atomic.Int32{}
		f.calls[def.ID] = n
		f.reg.MustRegister(tools.Entry{Definition: def, Handler: func(ctx context.Context, args map[string]any) (tools.Result, error) {
			n.Add(1)
			return h(ctx, args)
		}})
	}
	echo := func(_ context.Context, args map[string]any) (tools.Result, error) {
		return tools.Success(args["message"]), nil
	}
	pathEcho := func(_ context.Context, args map[string]any) (tools.Result, error) {
		return tools.Success("ok " + args["path"].(string)), nil
	}

	add(tools.Definition{
		ID: "echo",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
			"required":   []string{"message"},
		},
		Permission: tools.Permission{ReadOnly: true},
	}, echo)
	add(tools.Definition{
		ID:         "write",
		Permission: tools.Permission{Name: "edit", Patterns: []tools.ArgPattern{{Arg: "path", Kind: tools.KindPath}}},
	}, pathEcho)
	add(tools.Definition{
		ID: "read",
		Permission: tools.Permission{
			Name: "read", ReadOnly: true, SupportsExternalPaths: true,
			Patterns: []tools.ArgPattern{{Arg: "path", Kind: tools.KindPath}},
		},
	}, pathEcho)
	add(tools.Definition{
		ID:         "bash",
		Permission: tools.Permission{Patterns: []tools.ArgPattern{{Arg: "command", Kind: tools.KindCommand}}},
	}, func(_ context.Context, args map[string]any) (tools.Result, error) {
		return tools.Success("ran " + args["command"].(string)), nil
	})
	add(tools.Definition{ID: "fail"}, func(context.Context, map[string]any) (tools.Result, error) {
		return tools.Result{}, errors.New("disk on fire")
	})
	add(tools.Definition{ID: "soft-fail"}, func(context.Context, map[string]any) (tools.Result, error) {
		return tools.Result{Success: false, Error: "nothing matched"}, nil
	})
	add(tools.Definition{ID: "panic"}, func(context.Context, map[string]any) (tools.Result, error) {
		panic("kaboom")
	})
	add(tools.Definition{ID: "slow"}, func(ctx context.Context, _ map[string]any) (tools.Result, error) {
		<-ctx.Done()
		return tools.Result{}, ctx.Err()
	})
	add(tools.Definition{ID: "secret"}, func(context.Context, map[string]any) (tools.Result, error) {
		return tools.Success("API_KEY=abcdefghijklmnop"), nil
	})
	return f
}

func (f *fixture) pipeline(rules policy.Ruleset, mutate ...func(*Config)) *Pipeline {
	cfg := Config{
		Registry:  f.reg,
		Evaluator: policy.NewEvaluator(rules),
		Guard:     policy.PathGuard{Root: f.root},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p := New(cfg)
	p.SetLogger(logger.Nop())
	return p
}

type recorder struct {
	answer bool
	err    error
	calls  []Call
}

func (r *recorder) approve(_ context.Context, c Call, _ tools.Definition) (bool, error) {
	r.calls = append(r.calls, c)
	return r.answer, r.err
}

var ec = ExecContext{SessionID: "s1", Mode: session.ModeBuild}

func TestAllowAllEcho(t *testing.T) {
	f := newFixture(t)
	out := f.pipeline(policy.AllowAll()).Execute(context.Background(), "echo", "c1", `{"message":"hi"}`, ec)

	assert.Equal(t, KindSuccess, out.Kind)
	assert.Equal(t, "hi", out.Text)
	assert.False(t, out.Approved)
	assert.EqualValues(t, 1, f.calls["echo"].Load())
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(policy.AllowAll())

	tests := []struct {
		name, tool, args string
	}{
		{"unknown tool", "nope", `{}`},
		{"bad json", "echo", `{"message":`},
		{"missing required", "echo", `{}`},
		{"wrong type", "echo", `{"message":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := p.Execute(context.Background(), tt.tool, "c1", tt.args, ec)
			assert.Equal(t, KindValidation, out.Kind)
			assert.Equal(t, string(KindValidation), out.Result.Code)
			assert.Contains(t, out.Text, `"success":false`)
		})
	}
	assert.EqualValues(t, 0, f.calls["echo"].Load())
}

func TestDenyShortCircuits(t *testing.T) {
	f := newFixture(t)
	rules := policy.Ruleset{
		{Permission: "*", Pattern: "*", Action: policy.ActionAllow},
		{Permission: "edit", Pattern: "*", Action: policy.ActionDeny},
	}
	rec := &recorder{answer: true}
	p := f.pipeline(rules, func(c *Config) { c.Approve = rec.approve; c.AutoApprove = true })

	out := p.Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
	assert.Equal(t, KindPermissionDenied, out.Kind)
	assert.Contains(t, out.Result.Error, "edit")
	assert.Empty(t, rec.calls)
	assert.EqualValues(t, 0, f.calls["write"].Load())
}

func TestApproval(t *testing.T) {
	f := newFixture(t)
	rules := policy.Ruleset{{Permission: "*", Pattern: "*", Action: policy.ActionAsk}}

	t.Run("rejected", func(t *testing.T) {
		rec := &recorder{answer: false}
		out := f.pipeline(rules, func(c *Config) { c.Approve = rec.approve }).
			Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
		assert.Equal(t, KindApprovalRejected, out.Kind)
		require.Len(t, rec.calls, 1)
		assert.False(t, rec.calls[0].Forced)
		assert.Equal(t, "f.txt", rec.calls[0].Args["path"])
	})

	t.Run("approved", func(t *testing.T) {
		rec := &recorder{answer: true}
		out := f.pipeline(rules, func(c *Config) { c.Approve = rec.approve }).
			Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
		assert.Equal(t, KindSuccess, out.Kind)
		assert.True(t, out.Approved)
		assert.Equal(t, "ok f.txt", out.Text)
	})

	t.Run("no approver", func(t *testing.T) {
		out := f.pipeline(rules).Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
		assert.Equal(t, KindApprovalRejected, out.Kind)
	})

	t.Run("auto approve waives ask", func(t *testing.T) {
		rec := &recorder{answer: false}
		out := f.pipeline(rules, func(c *Config) { c.Approve = rec.approve; c.AutoApprove = true }).
			Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
		assert.Equal(t, KindSuccess, out.Kind)
		assert.Empty(t, rec.calls)
	})

	t.Run("dotenv forces approval despite auto approve", func(t *testing.T) {
		rec := &recorder{answer: false}
		out := f.pipeline(policy.AllowAll(), func(c *Config) { c.Approve = rec.approve; c.AutoApprove = true }).
			Execute(context.Background(), "write", "c1", `{"path":".env"}`, ec)
		assert.Equal(t, KindApprovalRejected, out.Kind)
		require.Len(t, rec.calls, 1)
		assert.True(t, rec.calls[0].Forced)
		assert.Contains(t, rec.calls[0].Reasons[0], ".env")
	})

	t.Run("approver error", func(t *testing.T) {
		rec := &recorder{err: errors.New("ui gone")}
		out := f.pipeline(rules, func(c *Config) { c.Approve = rec.approve }).
			Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
		assert.Equal(t, KindApprovalRejected, out.Kind)
		assert.Contains(t, out.Result.Error, "ui gone")
	})
}

func TestHooks(t *testing.T) {
	f := newFixture(t)
	hm := hooks.NewManager()
	hm.SetLogger(logger.Nop())
	require.NoError(t, hm.Register(hooks.HookBeforeToolCall, &hooks.Handler{
		ID: "waive", Enabled: true,
		Handler: func(_ context.Context, h *hooks.Context) (*hooks.Result, error) {
			if h.ToolCall.ToolName == "bash" {
				return hooks.StopResult("bash disabled by hook"), nil
			}
			params := map[string]any{"path": "rewritten.txt"}
			if h.ToolCall.ToolName != "write" {
				params = h.ToolCall.Params
			}
			return &hooks.Result{Continue: true, Modified: true, Params: params, SkipApproval: true}, nil
		},
	}))

	t.Run("waives ask and rewrites args", func(t *testing.T) {
		rec := &recorder{answer: false}
		rules := policy.Ruleset{{Permission: "*", Pattern: "*", Action: policy.ActionAsk}}
		out := f.pipeline(rules, func(c *Config) { c.Hooks = hm; c.Approve = rec.approve }).
			Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
		assert.Equal(t, KindSuccess, out.Kind)
		assert.Equal(t, "ok rewritten.txt", out.Text)
		assert.Empty(t, rec.calls)
	})

	t.Run("cannot waive deny", func(t *testing.T) {
		rules := policy.Ruleset{{Permission: "edit", Pattern: "*", Action: policy.ActionDeny}}
		out := f.pipeline(rules, func(c *Config) { c.Hooks = hm }).
			Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
		assert.Equal(t, KindPermissionDenied, out.Kind)
	})

	t.Run("cannot waive dotenv", func(t *testing.T) {
		rec := &recorder{answer: false}
		out := f.pipeline(policy.AllowAll(), func(c *Config) { c.Hooks = hm; c.Approve = rec.approve }).
			Execute(context.Background(), "read", "c1", `{"path":".env.local"}`, ec)
		assert.Equal(t, KindApprovalRejected, out.Kind)
		require.Len(t, rec.calls, 1)
	})

	t.Run("blocks call", func(t *testing.T) {
		out := f.pipeline(policy.AllowAll(), func(c *Config) { c.Hooks = hm }).
			Execute(context.Background(), "bash", "c1", `{"command":"ls"}`, ec)
		assert.Equal(t, KindPermissionDenied, out.Kind)
		assert.Equal(t, "bash disabled by hook", out.Result.Error)
		assert.EqualValues(t, 0, f.calls["bash"].Load())
	})
}

func TestPlanMode(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(policy.AllowAll())
	plan := ExecContext{SessionID: "s1", Mode: session.ModePlan}

	out := p.Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, plan)
	assert.Equal(t, KindPermissionDenied, out.Kind)

	out = p.Execute(context.Background(), "read", "c1", `{"path":"f.txt"}`, plan)
	assert.Equal(t, KindSuccess, out.Kind)
}

func TestExternalPaths(t *testing.T) {
	f := newFixture(t)

	t.Run("disabled", func(t *testing.T) {
		out := f.pipeline(policy.AllowAll()).Execute(context.Background(), "read", "c1", `{"path":"/etc/hosts"}`, ec)
		assert.Equal(t, KindExternalPathDisabled, out.Kind)
	})

	t.Run("tool without external support", func(t *testing.T) {
		p := f.pipeline(policy.AllowAll(), func(c *Config) { c.Guard.AllowExternal = true; c.Approve = AutoApprove })
		out := p.Execute(context.Background(), "write", "c1", `{"path":"/etc/hosts"}`, ec)
		assert.Equal(t, KindExternalPathDisabled, out.Kind)
	})

	t.Run("allowed after forced approval", func(t *testing.T) {
		rec := &recorder{answer: true}
		p := f.pipeline(policy.AllowAll(), func(c *Config) {
			c.Guard.AllowExternal = true
			c.Approve = rec.approve
			c.AutoApprove = true
		})
		out := p.Execute(context.Background(), "read", "c1", `{"path":"/etc/hosts"}`, ec)
		assert.Equal(t, KindSuccess, out.Kind)
		require.Len(t, rec.calls, 1)
		assert.True(t, rec.calls[0].Forced)
	})

	t.Run("inside needs nothing", func(t *testing.T) {
		out := f.pipeline(policy.AllowAll()).Execute(context.Background(), "read", "c1", `{"path":"src/main.go"}`, ec)
		assert.Equal(t, KindSuccess, out.Kind)
	})
}

func TestShellSafety(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name      string
		command   string
		want      Kind
		approvals int
	}{
		{"allowlisted", "ls -la", KindSuccess, 0},
		{"destructive", "rm -rf /", KindShellCommandBlocked, 0},
		{"chained", "echo a && echo b", KindSuccess, 1},
		{"env prefix", "FOO=1 git status", KindSuccess, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{answer: true}
			p := f.pipeline(policy.AllowAll(), func(c *Config) { c.Approve = rec.approve })
			out := p.Execute(context.Background(), "bash", "c1", `{"command":"`+tt.command+`"}`, ec)
			assert.Equal(t, tt.want, out.Kind)
			assert.Len(t, rec.calls, tt.approvals)
		})
	}
}

func TestExecutionFailures(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(policy.AllowAll(), func(c *Config) { c.Timeout = 20 * time.Millisecond })

	out := p.Execute(context.Background(), "fail", "c1", `{}`, ec)
	assert.Equal(t, KindExecutionFailure, out.Kind)
	assert.Contains(t, out.Result.Error, "disk on fire")

	out = p.Execute(context.Background(), "soft-fail", "c1", `{}`, ec)
	assert.Equal(t, KindExecutionFailure, out.Kind)
	assert.Equal(t, string(KindExecutionFailure), out.Result.Code)

	out = p.Execute(context.Background(), "panic", "c1", `{}`, ec)
	assert.Equal(t, KindExecutionFailure, out.Kind)
	assert.Contains(t, out.Result.Error, "kaboom")

	out = p.Execute(context.Background(), "slow", "c1", `{}`, ec)
	assert.Equal(t, KindExecutionFailure, out.Kind)
	assert.Equal(t, "tool_timeout", out.Result.Code)
	assert.NoError(t, out.Err)
}

func TestCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	rules := policy.Ruleset{{Permission: "*", Pattern: "*", Action: policy.ActionAsk}}
	p := f.pipeline(rules, func(c *Config) {
		c.Approve = func(ctx context.Context, _ Call, _ tools.Definition) (bool, error) {
			cancel()
			<-ctx.Done()
			return false, ctx.Err()
		}
	})

	out := p.Execute(ctx, "write", "c1", `{"path":"f.txt"}`, ec)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.EqualValues(t, 0, f.calls["write"].Load())
}

func TestDecoratorsAndHandles(t *testing.T) {
	f := newFixture(t)
	handles := staticHandles{"F1": "src/main.go"}
	p := f.pipeline(policy.AllowAll(), func(c *Config) {
		c.Handles = handles
		c.Decorators = []tools.Decorator{tools.ScrubDecorator(), tools.HandleDecorator(handles)}
	})

	out := p.Execute(context.Background(), "read", "c1", `{"path":"F1"}`, ec)
	assert.Equal(t, "ok F1", out.Text)

	out = p.Execute(context.Background(), "secret", "c1", `{}`, ec)
	assert.NotContains(t, out.Text, "abcdefghijklmnop")
}

type staticHandles map[string]string

func (s staticHandles) Expand(h string) (string, bool) {
	v, ok := s[h]
	return v, ok
}

func (s staticHandles) Substitute(text string) string {
	for h, v := range s {
		if text == "ok "+v {
			return "ok " + h
		}
	}
	return text
}

type syncNotifier struct{ m *approval.Manager }

func (n syncNotifier) NotifyRequest(req *approval.Request) error {
	go func() { _ = n.m.HandleResponse(req.ID, req.ToolName == "write", "") }()
	return nil
}

func (syncNotifier) NotifyResolved(*approval.Request, *approval.Result) error { return nil }

func TestManagerApprover(t *testing.T) {
	f := newFixture(t)
	m := approval.NewManager(&approval.ManagerConfig{Timeout: time.Second})
	m.SetLogger(logger.Nop())
	m.SetNotifier(syncNotifier{m})
	defer m.Close()

	rules := policy.Ruleset{{Permission: "*", Pattern: "*", Action: policy.ActionAsk}}
	p := f.pipeline(rules, func(c *Config) { c.Approve = ManagerApprover(m) })

	out := p.Execute(context.Background(), "write", "c1", `{"path":"f.txt"}`, ec)
	assert.Equal(t, KindSuccess, out.Kind)

	out = p.Execute(context.Background(), "bash", "c2", `{"command":"ls"}`, ec)
	assert.Equal(t, KindApprovalRejected, out.Kind)
	assert.Equal(t, 0, m.PendingCount())
}
