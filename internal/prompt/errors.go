// Package prompt provides system prompt building for agents.
package prompt

import "errors"

// Prompt errors.
var (
	// ErrTemplateRender indicates that template rendering failed.
	ErrTemplateRender = errors.New("prompt: template render failed")

	// ErrInstructionRead indicates that a project instruction file could not be read.
	ErrInstructionRead = errors.New("prompt: instruction file read failed")
)
