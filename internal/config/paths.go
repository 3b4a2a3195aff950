package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the coda home directory.
const HomeEnv = "CODA_HOME"

// DefaultConfigDir returns $CODA_HOME, or ~/.coda when unset.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".coda"), nil
}

func inConfigDir(name string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// DefaultConfigPath returns config.yaml in the config dir.
func DefaultConfigPath() (string, error) { return inConfigDir("config.yaml") }

// DefaultDataPath returns the session database path in the config dir.
func DefaultDataPath() (string, error) { return inConfigDir("coda.db") }

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
