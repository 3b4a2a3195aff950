// Package pipeline resolves one tool call end to end: argument hooks, handle
// expansion, permission rules, approval, workspace containment, shell safety,
// invocation and result decoration.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coda/internal/hooks"
	"coda/internal/policy"
	"coda/internal/session"
	"coda/internal/tools"
	"coda/pkg/logger"
)

// DefaultTimeout bounds a tool invocation when Config.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// Registry is the subset of tools.Registry the pipeline needs.
type Registry interface {
	Lookup(id string) (tools.Entry, bool)
}

// Config wires the pipeline's collaborators.
type Config struct {
	Registry  Registry
	Evaluator *policy.Evaluator
	Guard     policy.PathGuard
	Approve   ApprovalFunc

	// Hooks and Handles are optional.
	Hooks   *hooks.Manager
	Handles tools.HandleResolver

	Decorators []tools.Decorator
	Timeout    time.Duration

	// AutoApprove waives rule-level asks. Forced approvals still go to Approve.
	AutoApprove bool
}

// Pipeline executes tool calls. It holds no per-call state and is safe for
// concurrent use.
type Pipeline struct {
	cfg    Config
	dotenv policy.DotenvGuard
	logger zerolog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Evaluator == nil {
		cfg.Evaluator = policy.NewEvaluator(policy.DefaultRuleset())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Pipeline{cfg: cfg, logger: logger.Component("pipeline")}
}

// SetLogger sets a custom logger.
func (p *Pipeline) SetLogger(l zerolog.Logger) {
	p.logger = l
}

// ExecContext carries per-turn facts the pipeline needs.
type ExecContext struct {
	SessionID string
	Mode      session.Mode
	Depth     int
}

// Execute runs one call through every stage. Blocked calls never reach the
// tool; they come back as failed results the model can read.
func (p *Pipeline) Execute(ctx context.Context, name, callID, arguments string, ec ExecContext) Outcome {
	start := time.Now()
	out := p.execute(ctx, name, callID, arguments, ec)
	out.Duration = time.Since(start)

	var ev *zerolog.Event
	if out.Failed() {
		ev = p.logger.Warn().Str("kind", string(out.Kind)).Str("error", out.Result.Error)
	} else {
		ev = p.logger.Info()
	}
	ev.Str("session_id", ec.SessionID).
		Str("tool", name).
		Str("call_id", callID).
		Dur("duration", out.Duration).
		Msg("tool call finished")
	return out
}

func (p *Pipeline) execute(ctx context.Context, name, callID, arguments string, ec ExecContext) Outcome {
	entry, ok := p.cfg.Registry.Lookup(name)
	if !ok {
		return blocked(KindValidation, fmt.Sprintf("unknown tool %q", name))
	}
	def := entry.Definition

	args, err := decodeArgs(arguments)
	if err != nil {
		return blocked(KindValidation, fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}

	if ec.Mode == session.ModePlan && !def.Permission.ReadOnly {
		return blocked(KindPermissionDenied, fmt.Sprintf("tool %s is not available in plan mode", name))
	}

	// received → args transformed
	hookCall := hooks.ToolCallContext{ID: callID, ToolName: name, Permission: def.PermissionName(), Params: args}
	hookWaiver := false
	if p.cfg.Hooks != nil {
		res, err := p.cfg.Hooks.TriggerBeforeToolCall(ctx, ec.SessionID, hookCall)
		if err != nil {
			return blocked(KindExecutionFailure, fmt.Sprintf("before_tool_call hook failed: %v", err))
		}
		if !res.Continue {
			if cerr := ctx.Err(); cerr != nil {
				return aborted(cerr)
			}
			reason := res.Reason
			if reason == "" {
				reason = "blocked by hook"
			}
			return blocked(KindPermissionDenied, reason)
		}
		if res.Modified {
			args = res.Params
		}
		hookWaiver = res.SkipApproval
	}

	// args transformed → handles resolved
	expandHandles(def, args, p.cfg.Handles)

	if err := tools.ValidateArgs(def.Parameters, args); err != nil {
		return blocked(KindValidation, fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}

	// handles resolved → permission evaluated
	ex := extract(def, args)
	decision := p.cfg.Evaluator.Check(def.PermissionName(), ex.all)
	if decision.Action == policy.ActionDeny {
		return blocked(KindPermissionDenied, denyMessage(def.PermissionName(), decision))
	}

	call := Call{ID: callID, Name: name, Arguments: arguments, Args: args, SessionID: ec.SessionID}
	waivable := decision.Action == policy.ActionAsk || def.Permission.RequiresApproval
	if waivable {
		call.Reasons = append(call.Reasons, fmt.Sprintf("permission %q requires approval", def.PermissionName()))
	}

	if hits := p.dotenv.Scan(policy.ScanInput{Paths: ex.paths, Commands: ex.commands, Globs: ex.globs}); len(hits) > 0 {
		call.Forced = true
		call.Reasons = append(call.Reasons, "accesses dotenv files: "+strings.Join(hits, ", "))
	}

	verdicts := make([]policy.ShellVerdict, 0, len(ex.commands))
	for _, c := range ex.commands {
		v := policy.EvaluateShellCommand(c)
		verdicts = append(verdicts, v)
		if v.Decision == policy.ShellNeedsApproval {
			call.Forced = true
			call.Reasons = append(call.Reasons, v.Reason)
		}
	}

	type located struct {
		path string
		loc  policy.Location
		err  error
	}
	locs := make([]located, 0, len(ex.paths))
	for _, path := range ex.paths {
		loc, err := p.cfg.Guard.Classify(path)
		locs = append(locs, located{path, loc, err})
		if err == nil && loc == policy.Outside && p.externalAllowed(def) {
			call.Forced = true
			call.Reasons = append(call.Reasons, "path outside workspace: "+path)
		}
	}

	// permission evaluated → pending approval
	needs := call.Forced || (waivable && !hookWaiver && !p.cfg.AutoApprove)
	approved := false
	if needs {
		if p.cfg.Approve == nil {
			return blocked(KindApprovalRejected, "approval required but no approver is configured")
		}
		ok, err := p.cfg.Approve(ctx, call, def)
		if cerr := ctx.Err(); cerr != nil {
			return aborted(cerr)
		}
		if err != nil {
			return blocked(KindApprovalRejected, fmt.Sprintf("approval failed: %v", err))
		}
		if !ok {
			return blocked(KindApprovalRejected, fmt.Sprintf("user rejected %s", name))
		}
		approved = true
	}

	// approved → external path checked
	for _, l := range locs {
		if l.err != nil {
			return blocked(KindExternalPathDisabled, l.err.Error())
		}
		if l.loc == policy.Outside && !p.externalAllowed(def) {
			return blocked(KindExternalPathDisabled, fmt.Sprintf("path %s is outside the workspace and external access is disabled", l.path))
		}
	}

	// external path checked → shell safety checked
	for _, v := range verdicts {
		if v.Decision == policy.ShellDeny {
			return blocked(KindShellCommandBlocked, v.Reason)
		}
	}

	// shell safety checked → invoked
	res, err := p.invoke(ctx, entry, callID, args, ec)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return aborted(cerr)
		}
		out := blocked(KindExecutionFailure, err.Error())
		if errors.Is(err, tools.ErrToolTimeout) {
			out.Result.Code = "tool_timeout"
			out.Text = out.Result.Text()
		}
		out.Approved = approved
		return out
	}

	// invoked → decorated → formatted
	res = tools.Decorate(ctx, def, res, p.cfg.Decorators...)
	kind := KindSuccess
	if !res.Success {
		kind = KindExecutionFailure
		if res.Code == "" {
			res.Code = string(KindExecutionFailure)
		}
	}
	out := Outcome{Kind: kind, Result: res, Text: res.Text(), Approved: approved}

	if p.cfg.Hooks != nil {
		if _, err := p.cfg.Hooks.TriggerAfterToolCall(ctx, ec.SessionID, hookCall, out.Text, res.Error, 0); err != nil {
			p.logger.Warn().Err(err).Str("tool", name).Msg("after_tool_call hook failed")
		}
	}
	return out
}

func (p *Pipeline) externalAllowed(def tools.Definition) bool {
	return p.cfg.Guard.AllowExternal && def.Permission.SupportsExternalPaths
}

// invoke runs the handler under the per-call timeout and converts panics into
// errors.
func (p *Pipeline) invoke(ctx context.Context, entry tools.Entry, callID string, args map[string]any, ec ExecContext) (tools.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	callCtx = tools.WithSessionID(callCtx, ec.SessionID)
	callCtx = tools.WithCallID(callCtx, callID)
	callCtx = tools.WithDepth(callCtx, ec.Depth)

	type result struct {
		res tools.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("tool", entry.Definition.ID).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("tool panicked")
				done <- result{err: fmt.Errorf("tool %s panicked: %v", entry.Definition.ID, r)}
			}
		}()
		res, err := entry.Handler(callCtx, args)
		done <- result{res, err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return tools.Result{}, ctx.Err()
		}
		return tools.Result{}, &tools.ToolTimeoutError{Tool: entry.Definition.ID, Timeout: p.cfg.Timeout}
	}
}

func decodeArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func denyMessage(permission string, d policy.Decision) string {
	for i, r := range d.Matched {
		if r != nil && r.Action == policy.ActionDeny {
			return fmt.Sprintf("permission %q denied for %q by rule %s:%s", permission, d.Values[i], r.Permission, r.Pattern)
		}
	}
	return fmt.Sprintf("permission %q denied", permission)
}

func aborted(err error) Outcome {
	out := blocked(KindExecutionFailure, "tool call aborted: "+err.Error())
	out.Err = err
	return out
}
