package prompt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"time"
)

// SystemPromptBuilder renders the system parts of a request: identity,
// environment block, guidelines, safety rules and project instructions.
type SystemPromptBuilder struct {
	config PromptConfig
	now    func() time.Time
}

// NewSystemPromptBuilder creates a new SystemPromptBuilder.
func NewSystemPromptBuilder(config PromptConfig) *SystemPromptBuilder {
	if config.AgentName == "" {
		config.AgentName = "Coda"
	}
	if config.InstructionFiles == nil {
		config.InstructionFiles = DefaultInstructionFiles
	}
	if config.WorkspaceDir == "" {
		if wd, err := os.Getwd(); err == nil {
			config.WorkspaceDir = wd
		}
	}
	return &SystemPromptBuilder{config: config, now: time.Now}
}

// GetConfig returns the prompt config (sub-agent builders inherit it).
func (b *SystemPromptBuilder) GetConfig() PromptConfig {
	return b.config
}

// InstructionPaths returns the absolute paths of the configured instruction files.
func (b *SystemPromptBuilder) InstructionPaths() []string {
	paths := make([]string, 0, len(b.config.InstructionFiles))
	for _, name := range b.config.InstructionFiles {
		if filepath.IsAbs(name) {
			paths = append(paths, name)
			continue
		}
		paths = append(paths, filepath.Join(b.config.WorkspaceDir, name))
	}
	return paths
}

// Build renders every system part. Missing instruction files are skipped.
func (b *SystemPromptBuilder) Build(ctx context.Context) ([]string, error) {
	data := b.prepareData()

	var parts []string
	for _, tmpl := range []string{baseIdentityTemplate, environmentTemplate, constraintsTemplate} {
		part, err := render(tmpl, data)
		if err != nil {
			return nil, err
		}
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if !b.config.DisableSafetyPrompt {
		parts = append(parts, strings.TrimSpace(SafetyRulesPrompt))
	}

	instructions, err := b.loadInstructions(ctx)
	if err != nil {
		return nil, err
	}
	for _, in := range instructions {
		part, err := render(instructionTemplate, in)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func (b *SystemPromptBuilder) prepareData() PromptData {
	_, gitErr := os.Stat(filepath.Join(b.config.WorkspaceDir, ".git"))
	return PromptData{
		AgentName:    b.config.AgentName,
		WorkspaceDir: b.config.WorkspaceDir,
		Platform:     runtime.GOOS,
		Today:        b.now().Format("Mon Jan 2 2006"),
		IsGitRepo:    gitErr == nil,
		Constraints:  b.config.Constraints,
		ExtraPrompt:  b.config.ExtraPrompt,
	}
}

func (b *SystemPromptBuilder) loadInstructions(ctx context.Context) ([]Instruction, error) {
	var out []Instruction
	for _, path := range b.InstructionPaths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInstructionRead, path, err)
		}
		if content := strings.TrimSpace(string(data)); content != "" {
			out = append(out, Instruction{Path: path, Content: content})
		}
	}
	return out, nil
}

func render(text string, data any) (string, error) {
	tmpl, err := template.New("").Parse(text)
	if err != nil {
		return "", fmt.Errorf("%w: parse: %v", ErrTemplateRender, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: execute: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}
