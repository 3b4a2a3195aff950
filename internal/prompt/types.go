package prompt

// DefaultInstructionFiles are the project instruction files looked up in the
// workspace root, in order.
var DefaultInstructionFiles = []string{"AGENTS.md", "CODA.md"}

// PromptConfig holds configuration for the system prompt builder.
type PromptConfig struct {
	AgentName           string   `json:"agent_name" mapstructure:"agent_name"`
	WorkspaceDir        string   `json:"workspace_dir" mapstructure:"workspace_dir"`
	ExtraPrompt         string   `json:"extra_prompt" mapstructure:"extra_prompt"`
	Constraints         []string `json:"constraints" mapstructure:"constraints"`
	InstructionFiles    []string `json:"instruction_files" mapstructure:"instruction_files"`
	DisableSafetyPrompt bool     `json:"disable_safety_prompt" mapstructure:"disable_safety_prompt"`
}

// DefaultPromptConfig returns a PromptConfig with default values.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		AgentName:        "Coda",
		InstructionFiles: DefaultInstructionFiles,
	}
}

// PromptData holds all data for template rendering.
type PromptData struct {
	AgentName    string
	WorkspaceDir string
	Platform     string
	Today        string
	IsGitRepo    bool
	Constraints  []string
	ExtraPrompt  string
}

// Instruction is one project instruction file.
type Instruction struct {
	Path    string
	Content string
}
