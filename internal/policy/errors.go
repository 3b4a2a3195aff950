package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRule indicates a rule with an unknown action or empty permission.
	ErrInvalidRule = errors.New("policy: invalid rule")

	// ErrUnsupportedFormat indicates a ruleset file with an unknown extension.
	ErrUnsupportedFormat = errors.New("policy: unsupported ruleset format")

	// ErrOutsideWorkspace marks a path that resolves outside the workspace root.
	ErrOutsideWorkspace = errors.New("policy: path outside workspace")
)

// BoundaryError is returned when a path's real location cannot be
// determined and external access is disabled.
type BoundaryError struct {
	Path string
	Root string
	Err  error
}

// Error implements the error interface.
func (e *BoundaryError) Error() string {
	return fmt.Sprintf("cannot verify %q is inside %q: %v", e.Path, e.Root, e.Err)
}

// Unwrap returns the resolution error.
func (e *BoundaryError) Unwrap() error {
	return e.Err
}

// Is matches ErrOutsideWorkspace so callers can treat both the same way.
func (e *BoundaryError) Is(target error) bool {
	return target == ErrOutsideWorkspace
}
