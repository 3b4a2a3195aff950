package policy

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Location classifies a path relative to the workspace root.
type Location string

const (
	Inside  Location = "inside"
	Outside Location = "outside"
)

// PathGuard decides whether paths stay inside a workspace root.
type PathGuard struct {
	Root          string
	AllowExternal bool
}

// Classify resolves path against the root both lexically and through the
// filesystem (nearest existing ancestor with symlinks resolved, remainder
// re-joined). The filesystem answer wins when it can be computed. When it
// cannot and external access is disabled, Classify fails closed with a
// *BoundaryError.
func (g PathGuard) Classify(path string) (Location, error) {
	root, err := filepath.Abs(g.Root)
	if err != nil {
		return Outside, &BoundaryError{Path: path, Root: g.Root, Err: err}
	}
	target := g.absolute(root, path)

	lexical := Outside
	if within(root, target) {
		lexical = Inside
	}

	canonRoot, rootErr := canonical(root)
	canonTarget, targetErr := canonical(target)
	if rootErr == nil && targetErr == nil {
		if within(canonRoot, canonTarget) {
			return Inside, nil
		}
		return Outside, nil
	}

	if !g.AllowExternal {
		return Outside, &BoundaryError{Path: path, Root: root, Err: errors.Join(rootErr, targetErr)}
	}
	return lexical, nil
}

// Resolve returns the absolute, cleaned form of path relative to the root.
func (g PathGuard) Resolve(path string) string {
	root, err := filepath.Abs(g.Root)
	if err != nil {
		root = g.Root
	}
	return g.absolute(root, path)
}

func (g PathGuard) absolute(root, path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return filepath.Clean(path)
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// canonical resolves symlinks on the nearest existing ancestor of p and
// re-joins the part that does not exist yet.
func canonical(p string) (string, error) {
	var rest []string
	cur := p
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}

	resolved, err := filepath.EvalSymlinks(cur)
	if err != nil {
		return "", err
	}
	for i := len(rest) - 1; i >= 0; i-- {
		resolved = filepath.Join(resolved, rest[i])
	}
	return resolved, nil
}
