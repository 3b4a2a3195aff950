package orchestrator

import (
	"context"

	"coda/internal/provider"
	"coda/internal/retry"
	"coda/internal/runner/types"
	"coda/internal/session"
)

// Orchestrator 控制 Agent 循环的执行流程
type Orchestrator interface {
	// Stream 执行完整的 Agent 循环，返回事件通道
	Stream(ctx context.Context, request *RunRequest) (<-chan types.Event, error)

	// Run 执行完整的 Agent 循环并返回最终结果
	Run(ctx context.Context, request *RunRequest) (*RunResult, error)
}

// RunRequest 封装运行请求的所有参数
type RunRequest struct {
	Session   *session.Session
	UserInput string

	// Depth is the sub-agent nesting level, 0 for a top-level turn.
	Depth int
}

// RunResult is the outcome of a finished turn.
type RunResult struct {
	Text       string
	Usage      provider.Usage
	Iterations int
}

// Config 控制循环行为
type Config struct {
	// MaxIterations bounds model calls per turn. Zero means unbounded.
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxTokens is the output token budget sent with each request.
	MaxTokens int `mapstructure:"max_output_tokens"`

	Retry retry.Policy `mapstructure:"retry"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 50,
		MaxTokens:     32000,
		Retry:         retry.DefaultPolicy(),
	}
}
