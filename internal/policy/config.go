package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// File is the on-disk ruleset document.
type File struct {
	Rules Ruleset `yaml:"rules" json:"rules"`
}

// LoadRuleset reads a ruleset from a YAML (.yaml/.yml) or JSON-with-comments
// (.json/.jsonc) file and validates it.
func LoadRuleset(path string) (Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	rs, err := ParseRuleset(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}
	return rs, nil
}

// ParseRuleset decodes a ruleset document. ext selects the format.
func ParseRuleset(data []byte, ext string) (Ruleset, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err := f.Rules.Validate(); err != nil {
		return nil, err
	}
	return f.Rules, nil
}
