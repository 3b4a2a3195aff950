// Package runner assembles the agent loop, tool pipeline, policy, hooks,
// prompts and persistence from a loaded configuration.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"coda/internal/compaction"
	"coda/internal/config"
	"coda/internal/hooks"
	"coda/internal/policy"
	"coda/internal/policy/approval"
	"coda/internal/prompt"
	"coda/internal/provider"
	"coda/internal/runner/delegate"
	"coda/internal/runner/message"
	"coda/internal/runner/orchestrator"
	"coda/internal/runner/pipeline"
	"coda/internal/runner/types"
	"coda/internal/session"
	"coda/internal/storage"
	"coda/internal/tools"
	"coda/internal/tools/builtin"
	"coda/pkg/logger"
)

// Deps are the collaborators a Runner does not build itself.
type Deps struct {
	Provider provider.Provider

	// Store persists sessions, notes and the approval audit. Optional.
	Store *storage.DB

	// Notifier answers approval requests, e.g. a terminal prompt. Without
	// one (and without Approve) every approval is rejected.
	Notifier approval.Notifier

	// Approve replaces the approval manager entirely. Optional.
	Approve pipeline.ApprovalFunc

	// Tools are registered after the built-ins.
	Tools []tools.Entry
}

// Runner executes agent turns with tool calling.
type Runner struct {
	cfg       *config.Config
	model     provider.Model
	registry  *tools.Registry
	evaluator *policy.Evaluator
	watcher   *policy.Watcher
	hooks     *hooks.Manager
	approvals *approval.Manager
	pipeline  *pipeline.Pipeline
	prompts   *prompt.Cache
	compactor *compaction.Compactor
	loop      *orchestrator.Loop
	store     *storage.DB
	logger    zerolog.Logger
}

// New builds a runner for cfg.Agent.Model.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if deps.Provider == nil {
		return nil, ErrNoProvider
	}
	r := &Runner{cfg: cfg, store: deps.Store, logger: logger.Component("runner")}

	model, err := deps.Provider.Model(cfg.Agent.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}
	if limits := cfg.ModelLimits(cfg.Agent.Model); limits != (provider.Limits{}) {
		model = limitedModel{Model: model, limits: limits}
	}
	r.model = model

	workspace := cfg.Agent.Workspace
	if workspace == "" {
		if workspace, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	if err := r.initPolicy(); err != nil {
		return nil, err
	}
	if err := r.initHooks(); err != nil {
		r.Close()
		return nil, err
	}

	r.registry = tools.NewRegistry()
	if err := builtin.RegisterBuiltins(r.registry); err != nil {
		r.Close()
		return nil, err
	}
	for _, e := range deps.Tools {
		if err := r.registry.Register(e); err != nil {
			r.Close()
			return nil, err
		}
	}

	decorators, err := r.decorators()
	if err != nil {
		r.Close()
		return nil, err
	}

	approve := deps.Approve
	if approve == nil {
		r.approvals = approval.NewManager(&approval.ManagerConfig{
			Notifier: deps.Notifier,
			Timeout:  cfg.Agent.ApprovalTimeout,
		})
		if deps.Store != nil {
			r.approvals.SetAudit(deps.Store)
		}
		if deps.Notifier != nil {
			approve = pipeline.ManagerApprover(r.approvals)
		} else {
			approve = rejectAll
		}
	}

	r.pipeline = pipeline.New(pipeline.Config{
		Registry:    r.registry,
		Evaluator:   r.evaluator,
		Guard:       policy.PathGuard{Root: workspace, AllowExternal: cfg.Agent.AllowExternalPaths},
		Approve:     approve,
		Hooks:       r.hooks,
		Decorators:  decorators,
		Timeout:     cfg.Agent.ToolTimeout,
		AutoApprove: cfg.Agent.AutoApprove,
	})

	r.prompts = prompt.NewCache(prompt.NewSystemPromptBuilder(prompt.PromptConfig{WorkspaceDir: workspace}))
	builder := message.NewStandardBuilder()
	builder.SetSystemSource(r.prompts)

	r.compactor = compaction.NewCompactor(cfg.Compaction, model)
	if deps.Store != nil && cfg.Compaction.MemoryNote {
		r.compactor.SetNoteWriter(deps.Store)
	}

	r.loop = orchestrator.NewLoop(model, r.registry, r.pipeline, orchestrator.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxOutputTokens,
		Retry:         cfg.RetryPolicy(),
	})
	r.loop.SetBuilder(builder)
	r.loop.SetCompactor(r.compactor)

	if cfg.Delegate.Enabled {
		tool := delegate.NewDelegateTool(r.loop, delegateConfig(cfg.Delegate))
		if err := r.registry.Register(tool.Entry()); err != nil {
			r.Close()
			return nil, err
		}
	}

	r.logger.Debug().
		Str("model", model.ID()).
		Str("workspace", workspace).
		Int("tools", r.registry.Len()).
		Msg("runner ready")
	return r, nil
}

func (r *Runner) initPolicy() error {
	rules := append(policy.DefaultRuleset(), r.cfg.Permission.Rules...)
	r.evaluator = policy.NewEvaluator(rules)

	path := r.cfg.Permission.RulesFile
	if path == "" {
		return nil
	}
	fileRules, err := policy.LoadRuleset(path)
	if err != nil {
		return err
	}
	r.evaluator.SetFileRules(fileRules)

	if r.cfg.Permission.Watch {
		w, err := policy.NewWatcher(path, r.evaluator)
		if err != nil {
			return fmt.Errorf("watch rules file: %w", err)
		}
		w.OnReload(func(rs policy.Ruleset, err error) {
			if err != nil {
				r.logger.Warn().Err(err).Str("path", path).Msg("rules reload failed")
				return
			}
			r.logger.Info().Int("rules", len(rs)).Msg("rules reloaded")
		})
		w.Start()
		r.watcher = w
	}
	return nil
}

func (r *Runner) initHooks() error {
	if len(r.cfg.Hooks.Scripts) == 0 {
		return nil
	}
	r.hooks = hooks.NewManager()
	for _, spec := range r.cfg.Hooks.Scripts {
		h, err := hooks.NewScriptHandler(spec, r.logger)
		if err != nil {
			return err
		}
		if err := r.hooks.Register(spec.Type, h); err != nil {
			return fmt.Errorf("register hook %s: %w", spec.Path, err)
		}
	}
	return nil
}

func (r *Runner) decorators() ([]tools.Decorator, error) {
	custom, err := tools.CompileScrubRules(r.cfg.Tools.ScrubRules)
	if err != nil {
		return nil, err
	}
	return []tools.Decorator{
		tools.ScrubDecorator(custom...),
		tools.TruncateDecorator(r.cfg.Tools.MaxOutputBytes),
	}, nil
}

func delegateConfig(c config.DelegateConfig) delegate.Config {
	out := delegate.Config{Enabled: c.Enabled, Timeout: c.Timeout}
	if len(c.Agents) > 0 {
		out.Agents = make(map[string]delegate.AgentConfig, len(c.Agents))
		for name, a := range c.Agents {
			out.Agents[name] = delegate.AgentConfig{
				Description: a.Description,
				Prompt:      a.Prompt,
				Mode:        session.Mode(a.Mode),
			}
		}
	}
	return out
}

func rejectAll(context.Context, pipeline.Call, tools.Definition) (bool, error) {
	return false, nil
}

// Registry returns the tool registry.
func (r *Runner) Registry() *tools.Registry { return r.registry }

// Evaluator returns the permission evaluator.
func (r *Runner) Evaluator() *policy.Evaluator { return r.evaluator }

// Approvals returns the approval manager, nil when Deps.Approve was given.
func (r *Runner) Approvals() *approval.Manager { return r.approvals }

// Prompts returns the system prompt cache.
func (r *Runner) Prompts() *prompt.Cache { return r.prompts }

// Loop returns the underlying agent loop.
func (r *Runner) Loop() *orchestrator.Loop { return r.loop }

// Session loads a stored session, or creates a new one when id is empty.
func (r *Runner) Session(ctx context.Context, id string) (*session.Session, error) {
	if id == "" {
		return session.New(), nil
	}
	if r.store == nil {
		return nil, ErrNoStore
	}
	return r.store.LoadSession(ctx, id)
}

// Run executes one turn and persists the session afterwards, also when the
// turn failed part way.
func (r *Runner) Run(ctx context.Context, sess *session.Session, input string) (*orchestrator.RunResult, error) {
	res, err := r.loop.Run(ctx, &orchestrator.RunRequest{Session: sess, UserInput: input})
	if errors.Is(err, session.ErrSessionBusy) {
		return nil, err
	}
	if saveErr := r.save(ctx, sess); saveErr != nil {
		return res, errors.Join(err, saveErr)
	}
	return res, err
}

// Stream executes one turn, forwarding loop events. The session is saved
// before the channel closes, whatever way the turn ended.
func (r *Runner) Stream(ctx context.Context, sess *session.Session, input string) (<-chan types.Event, error) {
	events, err := r.loop.Stream(ctx, &orchestrator.RunRequest{Session: sess, UserInput: input})
	if err != nil {
		return nil, err
	}
	out := make(chan types.Event, 100)
	go func() {
		defer close(out)
		var last *types.Event
		for ev := range events {
			if ev.Type == types.EventTypeDone || ev.Type == types.EventTypeError {
				last = &ev
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		if err := r.save(ctx, sess); err != nil {
			r.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to save session")
		}
		if last != nil {
			out <- *last
		}
	}()
	return out, nil
}

func (r *Runner) save(ctx context.Context, sess *session.Session) error {
	if r.store == nil {
		return nil
	}
	// canceled turns are saved too
	return r.store.SaveSession(context.WithoutCancel(ctx), sess)
}

// Close stops background work.
func (r *Runner) Close() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.approvals != nil {
		r.approvals.Close()
	}
}

// limitedModel overrides the limits a model reports with configured ones.
type limitedModel struct {
	provider.Model
	limits provider.Limits
}

func (m limitedModel) Limits() provider.Limits { return m.limits }
