package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// DefaultScriptTimeout bounds a single script invocation.
const DefaultScriptTimeout = 5 * time.Second

// ScriptSpec configures one JavaScript hook.
type ScriptSpec struct {
	Path     string        `mapstructure:"path" yaml:"path" json:"path"`
	Type     HookType      `mapstructure:"type" yaml:"type" json:"type"`
	Priority int           `mapstructure:"priority" yaml:"priority" json:"priority"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// scriptResult mirrors Result with an optional continue flag so that a
// script returning only {params: ...} does not block the call.
type scriptResult struct {
	Continue     *bool          `json:"continue"`
	Modified     bool           `json:"modified"`
	Params       map[string]any `json:"params"`
	SkipApproval bool           `json:"skip_approval"`
	Reason       string         `json:"reason"`
}

// NewScriptHandler compiles a script that defines a global function
// handler(ctx). The function receives the hook context as a plain object
// and returns {continue, params, skip_approval, reason} or nothing.
func NewScriptHandler(spec ScriptSpec, log zerolog.Logger) (*Handler, error) {
	src, err := os.ReadFile(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("read hook script: %w", err)
	}
	name := filepath.Base(spec.Path)
	prog, err := goja.Compile(name, string(src), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrScript, name, err)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	run := func(ctx context.Context, hookCtx *Context) (*Result, error) {
		return runScript(ctx, prog, name, timeout, hookCtx, log)
	}
	return &Handler{
		ID:          "script:" + name,
		Priority:    spec.Priority,
		Source:      "script",
		Handler:     run,
		Description: spec.Path,
		Enabled:     true,
	}, nil
}

// LoadScripts compiles and registers every spec. Specs without a type run
// before tool calls.
func (m *Manager) LoadScripts(specs []ScriptSpec) error {
	for _, spec := range specs {
		if spec.Type == "" {
			spec.Type = HookBeforeToolCall
		}
		h, err := NewScriptHandler(spec, m.logger)
		if err != nil {
			return err
		}
		if err := m.Register(spec.Type, h); err != nil {
			return err
		}
		m.logger.Info().Str("script", spec.Path).Str("hook_type", string(spec.Type)).Msg("hook script loaded")
	}
	return nil
}

func runScript(ctx context.Context, prog *goja.Program, name string, timeout time.Duration, hookCtx *Context, log zerolog.Logger) (*Result, error) {
	ctxJSON, err := json.Marshal(hookCtx)
	if err != nil {
		return nil, fmt.Errorf("serialize hook context: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm := goja.New()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-execCtx.Done():
			vm.Interrupt("execution interrupted: " + execCtx.Err().Error())
		case <-done:
		}
	}()

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			args = append(args, a.Export())
		}
		log.Debug().Str("script", name).Interface("args", args).Msg("console.log")
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	_ = vm.Set("__hookContext", string(ctxJSON))

	if _, err := vm.RunProgram(prog); err != nil {
		return nil, wrapScriptError(name, err)
	}
	fn, ok := goja.AssertFunction(vm.Get("handler"))
	if !ok {
		return nil, fmt.Errorf("%w: %s does not define handler()", ErrScript, name)
	}
	arg, err := vm.RunString("JSON.parse(__hookContext)")
	if err != nil {
		return nil, wrapScriptError(name, err)
	}
	out, err := fn(goja.Undefined(), arg)
	if err != nil {
		return nil, wrapScriptError(name, err)
	}
	_ = vm.Set("__hookResult", out)
	encoded, err := vm.RunString("JSON.stringify(__hookResult === undefined || __hookResult === null ? {} : __hookResult)")
	if err != nil {
		return nil, wrapScriptError(name, err)
	}

	var sr scriptResult
	if err := json.Unmarshal([]byte(encoded.String()), &sr); err != nil {
		return nil, fmt.Errorf("%w: %s returned invalid result: %v", ErrScript, name, err)
	}
	res := &Result{
		Continue:     sr.Continue == nil || *sr.Continue,
		Modified:     sr.Modified || sr.Params != nil,
		Params:       sr.Params,
		SkipApproval: sr.SkipApproval,
		Reason:       sr.Reason,
	}
	return res, nil
}

func wrapScriptError(name string, err error) error {
	switch e := err.(type) {
	case *goja.InterruptedError:
		return fmt.Errorf("%w: %s interrupted: %v", ErrScript, name, e.Value())
	case *goja.Exception:
		return fmt.Errorf("%w: %s: %s", ErrScript, name, e.String())
	}
	return fmt.Errorf("%w: %s: %v", ErrScript, name, err)
}
