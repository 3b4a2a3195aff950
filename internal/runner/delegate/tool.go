// Package delegate exposes sub-agents to the model as a tool.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coda/internal/runner/orchestrator"
	"coda/internal/session"
	"coda/internal/tools"
	"coda/pkg/logger"
)

// Failure codes of the delegate tool.
const (
	CodeDepthExceeded = "delegate_depth_exceeded"
	CodeUnknownAgent  = "delegate_unknown_agent"
	CodeFailed        = "delegate_failed"
)

// Runner runs one turn of an agent. *orchestrator.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, request *orchestrator.RunRequest) (*orchestrator.RunResult, error)
}

// AgentConfig describes one sub-agent.
type AgentConfig struct {
	Description string       `json:"description" mapstructure:"description" yaml:"description"`
	Prompt      string       `json:"prompt,omitempty" mapstructure:"prompt" yaml:"prompt,omitempty"`
	Mode        session.Mode `json:"mode,omitempty" mapstructure:"mode" yaml:"mode,omitempty"`
}

// Config 子代理配置
type Config struct {
	Enabled bool                   `mapstructure:"enabled" yaml:"enabled"`
	Timeout time.Duration          `mapstructure:"timeout" yaml:"timeout,omitempty"`
	Agents  map[string]AgentConfig `mapstructure:"agents" yaml:"agents,omitempty"`
}

// DefaultAgents returns the sub-agents available without configuration.
func DefaultAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"explore": {
			Description: "read-only investigation of the workspace",
			Prompt:      "You are a research sub-agent. Investigate and report findings concisely. Do not modify anything.",
			Mode:        session.ModePlan,
		},
		"general": {
			Description: "general-purpose task execution",
			Mode:        session.ModeBuild,
		},
	}
}

// DelegateTool runs a task on a fresh child session with its own runner turn.
type DelegateTool struct {
	runner Runner
	agents map[string]AgentConfig
	cfg    Config
	logger zerolog.Logger
}

// NewDelegateTool creates a delegate tool. Empty cfg.Agents falls back to
// DefaultAgents.
func NewDelegateTool(runner Runner, cfg Config) *DelegateTool {
	agents := cfg.Agents
	if len(agents) == 0 {
		agents = DefaultAgents()
	}
	return &DelegateTool{
		runner: runner,
		agents: agents,
		cfg:    cfg,
		logger: logger.Component("delegate"),
	}
}

// SetLogger sets a custom logger.
func (t *DelegateTool) SetLogger(l zerolog.Logger) {
	t.logger = l
}

// Entry returns the registry entry of the tool.
func (t *DelegateTool) Entry() tools.Entry {
	names := t.agentNames()
	enum := make([]any, len(names))
	for i, n := range names {
		enum[i] = n
	}
	return tools.Entry{
		Definition: tools.Definition{
			ID:          "delegate",
			Description: "Delegate a task to a specialized sub-agent. Available agents: " + t.listAgents(),
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agent": map[string]any{
						"type":        "string",
						"description": "Name of the sub-agent to delegate to",
						"enum":        enum,
					},
					"prompt": map[string]any{
						"type":        "string",
						"description": "Task description for the sub-agent",
					},
				},
				"required": []any{"agent", "prompt"},
			},
			Permission: tools.Permission{Name: "delegate"},
		},
		Handler: t.Execute,
	}
}

// Execute delegates a task to a sub-agent.
func (t *DelegateTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	agentName, ok := args["agent"].(string)
	if !ok {
		return tools.Result{}, tools.NewInvalidArgsError("delegate", "agent must be a string", nil)
	}
	prompt, ok := args["prompt"].(string)
	if !ok || strings.TrimSpace(prompt) == "" {
		return tools.Result{}, tools.NewInvalidArgsError("delegate", "prompt must be a non-empty string", nil)
	}

	dc := GetDelegateContext(ctx)
	depth := tools.DepthFromContext(ctx)
	if dc.Depth > depth {
		depth = dc.Depth
	}
	if depth >= MaxAbsoluteDepth {
		return tools.Failure(CodeDepthExceeded, fmt.Sprintf(
			"delegation depth %d exceeds maximum %d (chain: %s)",
			depth, MaxAbsoluteDepth, strings.Join(dc.Chain, " -> "))), nil
	}

	agentCfg, exists := t.agents[agentName]
	if !exists {
		return tools.Failure(CodeUnknownAgent, fmt.Sprintf(
			"unknown agent: %q (available: %s)",
			agentName, strings.Join(t.agentNames(), ", "))), nil
	}

	parentID, _ := tools.SessionIDFromContext(ctx)
	childDC := dc.ForChild(agentName, parentID)
	childDC.Depth = depth + 1

	child := session.New()
	if agentCfg.Mode != "" {
		if err := child.SetMode(agentCfg.Mode); err != nil {
			return tools.Failure(CodeFailed, err.Error()), nil
		}
	}

	var cancel context.CancelFunc
	if t.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	ctx = WithDelegateContext(ctx, childDC)

	input := prompt
	if agentCfg.Prompt != "" {
		input = agentCfg.Prompt + "\n\n" + prompt
	}

	log := t.logger.With().
		Str("agent", agentName).
		Str("parent_session", parentID).
		Str("child_session", child.ID).
		Int("depth", childDC.Depth).
		Logger()

	start := time.Now()
	result, err := t.runner.Run(ctx, &orchestrator.RunRequest{
		Session:   child,
		UserInput: input,
		Depth:     childDC.Depth,
	})
	duration := time.Since(start)

	if err != nil {
		log.Warn().Err(err).Dur("duration", duration).Msg("delegate execution failed")
		// A canceled parent unwinds the whole turn.
		if errors.Is(ctx.Err(), context.Canceled) {
			return tools.Result{}, err
		}
		return tools.Failure(CodeFailed, fmt.Sprintf("delegate(%s) failed: %v", agentName, err)), nil
	}

	tokens := result.Usage.Count()
	log.Info().Dur("duration", duration).Int("tokens", tokens).Msg("delegate completed")

	output := fmt.Sprintf("[Agent: %s | Duration: %s | Tokens: %d]\n\n%s",
		agentName, duration.Round(time.Millisecond), tokens, result.Text)

	res := tools.Success(output)
	res.Metadata = map[string]any{
		"agent":         agentName,
		"duration":      duration.Milliseconds(),
		"tokens":        tokens,
		"depth":         childDC.Depth,
		"child_session": child.ID,
	}
	return res, nil
}

func (t *DelegateTool) agentNames() []string {
	names := make([]string, 0, len(t.agents))
	for name := range t.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *DelegateTool) listAgents() string {
	names := t.agentNames()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if desc := t.agents[name].Description; desc != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, desc))
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}
