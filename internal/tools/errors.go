package tools

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the tools package.
var (
	// ErrToolNotFound is returned when a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolAlreadyExists is returned when a tool id is registered twice.
	ErrToolAlreadyExists = errors.New("tool already exists")

	// ErrInvalidArgs is returned when tool arguments are invalid or malformed.
	ErrInvalidArgs = errors.New("invalid tool arguments")

	// ErrToolTimeout is returned when a tool execution exceeds its time limit.
	ErrToolTimeout = errors.New("tool execution timeout")
)

// ToolNotFoundError names the missing tool.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// Is allows errors.Is to match against ErrToolNotFound.
func (e *ToolNotFoundError) Is(target error) bool {
	return target == ErrToolNotFound
}

// InvalidArgsError provides detailed information about invalid arguments.
type InvalidArgsError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *InvalidArgsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid arguments for tool %s: %s: %v", e.Tool, e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, e.Message)
}

// Is allows errors.Is to match against ErrInvalidArgs.
func (e *InvalidArgsError) Is(target error) bool {
	return target == ErrInvalidArgs
}

// Unwrap returns the underlying cause.
func (e *InvalidArgsError) Unwrap() error {
	return e.Cause
}

// ToolTimeoutError reports a tool that ran past its deadline.
type ToolTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %s execution timed out after %s", e.Tool, e.Timeout)
}

// Is allows errors.Is to match against ErrToolTimeout.
func (e *ToolTimeoutError) Is(target error) bool {
	return target == ErrToolTimeout
}

// NewInvalidArgsError creates an InvalidArgsError with the given details.
func NewInvalidArgsError(tool, message string, cause error) error {
	return &InvalidArgsError{Tool: tool, Message: message, Cause: cause}
}
