package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlRules = `
rules:
  - permission: "*"
    pattern: "*"
    action: ask
  - permission: bash
    pattern: "git *"
    action: allow
`

const jsoncRules = `{
  // allow reads, deny lock files
  "rules": [
    {"permission": "read", "pattern": "*", "action": "allow"},
    {"permission": "edit", "pattern": "*.lock", "action": "deny"}, /* trailing */
  ]
}`

func TestLoadRuleset(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlRules), 0o644))
	rs, err := LoadRuleset(yamlPath)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, ActionAllow, Evaluate("bash", "git diff", rs).Action)

	jsoncPath := filepath.Join(dir, "rules.jsonc")
	require.NoError(t, os.WriteFile(jsoncPath, []byte(jsoncRules), 0o644))
	rs, err = LoadRuleset(jsoncPath)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, ActionDeny, Evaluate("edit", "go.lock", rs).Action)
}

func TestLoadRulesetErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRuleset(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "rules.toml")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))
	_, err = LoadRuleset(bad)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	invalid := filepath.Join(dir, "rules.yml")
	require.NoError(t, os.WriteFile(invalid, []byte("rules:\n  - permission: x\n    action: maybe\n"), 0o644))
	_, err = LoadRuleset(invalid)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlRules), 0o644))

	e := NewEvaluator(nil)
	w, err := NewWatcher(path, e)
	require.NoError(t, err)
	reloaded := make(chan error, 4)
	w.OnReload(func(_ Ruleset, err error) { reloaded <- err })
	w.Start()
	defer w.Stop()

	update := "rules:\n  - permission: bash\n    pattern: \"*\"\n    action: deny\n"
	require.NoError(t, os.WriteFile(path, []byte(update), 0o644))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ruleset was not reloaded")
	}
	assert.Equal(t, ActionDeny, e.Check("bash", []string{"ls"}).Action)

	w.Stop()
}
