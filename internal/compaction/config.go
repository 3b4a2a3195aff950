package compaction

// ToolOutputMode selects when tool outputs are replaced by a placeholder in
// the model-facing view.
type ToolOutputMode string

const (
	// AfterToolCall compacts an output once the model has consumed it.
	AfterToolCall ToolOutputMode = "after_tool_call"
	// OnCompaction compacts old outputs only when history is summarized.
	OnCompaction ToolOutputMode = "on_compaction"
)

// Config holds configuration for history compaction.
type Config struct {
	// Auto runs compaction when usage overflows and appends a continuation prompt.
	Auto bool `json:"auto" mapstructure:"auto" yaml:"auto"`

	// Prune enables tool output pruning.
	Prune bool `json:"prune" mapstructure:"prune" yaml:"prune"`

	// PruneProtectTokens of the most recent tool output are never pruned.
	PruneProtectTokens int `json:"prune_protect_tokens" mapstructure:"prune_protect_tokens" yaml:"prune_protect_tokens"`

	// PruneMinimumTokens is the least prunable output worth pruning at all.
	PruneMinimumTokens int `json:"prune_minimum_tokens" mapstructure:"prune_minimum_tokens" yaml:"prune_minimum_tokens"`

	ToolOutputMode ToolOutputMode `json:"tool_output_mode" mapstructure:"tool_output_mode" yaml:"tool_output_mode"`

	// ReservedOutputTokens is kept free for the model's answer.
	ReservedOutputTokens int `json:"reserved_output_tokens" mapstructure:"reserved_output_tokens" yaml:"reserved_output_tokens"`

	// MemoryNote appends each summary to the durable note store.
	MemoryNote bool `json:"memory_note" mapstructure:"memory_note" yaml:"memory_note"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Auto:                 true,
		Prune:                true,
		PruneProtectTokens:   40000,
		PruneMinimumTokens:   20000,
		ToolOutputMode:       OnCompaction,
		ReservedOutputTokens: 32000,
	}
}
