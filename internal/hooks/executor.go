package hooks

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"

	"github.com/rs/zerolog"

	"coda/pkg/logger"
)

// Executor executes hook handlers in sequence.
type Executor struct {
	recoverPanic bool
	logger       zerolog.Logger
}

// ExecutorOption configures the executor.
type ExecutorOption func(*Executor)

// WithPanicRecovery sets whether the executor should recover from panics.
func WithPanicRecovery(recover bool) ExecutorOption {
	return func(e *Executor) {
		e.recoverPanic = recover
	}
}

// NewExecutor creates a new hook executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		recoverPanic: true,
		logger:       logger.Component("hooks"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs handlers in order. A handler returning Continue=false stops
// the chain. Rewritten params are visible to later handlers; SkipApproval is
// sticky once any handler sets it. Handler errors are logged and skipped.
func (e *Executor) Execute(ctx context.Context, handlers []*Handler, hookCtx *Context) *Result {
	final := ContinueResult()

	for _, h := range handlers {
		if !h.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			final.Continue = false
			final.Error = err
			final.Reason = "hook chain cancelled"
			return final
		}

		res, err := e.executeHandler(ctx, h, hookCtx)
		if err != nil {
			e.logger.Error().
				Err(err).
				Str("handler_id", h.ID).
				Str("hook_type", string(hookCtx.Type)).
				Msg("handler execution error")
			continue
		}
		if res == nil {
			continue
		}

		if res.Modified && res.Params != nil {
			final.Modified = true
			final.Params = maps.Clone(res.Params)
			if hookCtx.ToolCall != nil {
				hookCtx.ToolCall.Params = maps.Clone(res.Params)
			}
		}
		if res.SkipApproval {
			final.SkipApproval = true
		}
		if !res.Continue {
			final.Continue = false
			final.Reason = res.Reason
			final.Error = res.Error
			e.logger.Debug().
				Str("handler_id", h.ID).
				Str("hook_type", string(hookCtx.Type)).
				Msg("hook chain interrupted by handler")
			break
		}
	}
	return final
}

func (e *Executor) executeHandler(ctx context.Context, h *Handler, hookCtx *Context) (res *Result, err error) {
	if e.recoverPanic {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().
					Str("handler_id", h.ID).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("handler panicked")
				res, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
	}
	if h.Handler == nil {
		return ContinueResult(), nil
	}
	return h.Handler(ctx, hookCtx)
}
