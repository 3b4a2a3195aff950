package policy

import (
	"path/filepath"
	"strings"
)

// suffixes of dotenv-style files that hold no secrets
var dotenvSafeSuffixes = []string{".sample", ".example", ".template"}

// ScanInput is what the dotenv guard inspects for one call.
type ScanInput struct {
	Paths    []string
	Commands []string
	Globs    []string
}

// DotenvGuard finds references to dotenv files.
type DotenvGuard struct{}

// Scan returns every dotenv-style reference found in the input.
func (DotenvGuard) Scan(in ScanInput) []string {
	var hits []string
	for _, p := range in.Paths {
		if IsDotenv(p) {
			hits = append(hits, p)
		}
	}
	for _, c := range in.Commands {
		for _, tok := range shellTokens(c) {
			if IsDotenv(tok) {
				hits = append(hits, tok)
			}
		}
	}
	for _, g := range in.Globs {
		if globHitsDotenv(g) {
			hits = append(hits, g)
		}
	}
	return hits
}

// IsDotenv reports whether p names a dotenv file: ".env", ".env.<x>" or
// "<x>.env", unless it ends in an allowlisted suffix.
func IsDotenv(p string) bool {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(p)))
	for _, s := range dotenvSafeSuffixes {
		if strings.HasSuffix(base, s) {
			return false
		}
	}
	return base == ".env" || strings.HasPrefix(base, ".env.") || strings.HasSuffix(base, ".env")
}

func globHitsDotenv(glob string) bool {
	for _, part := range strings.Split(glob, ",") {
		base := filepath.Base(strings.Trim(strings.TrimSpace(part), "{}"))
		if IsDotenv(base) {
			return true
		}
		// 只探测显式提到 env 的 glob，"*" 之类不算
		if !strings.Contains(strings.ToLower(base), "env") {
			continue
		}
		for _, name := range []string{".env", ".env.local", "prod.env"} {
			if ok, _ := filepath.Match(base, name); ok {
				return true
			}
		}
	}
	return false
}

// shellTokens splits a command line on whitespace, shell operators and
// quotes. "a=b" tokens yield their right-hand side.
func shellTokens(cmd string) []string {
	fields := strings.FieldsFunc(cmd, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ';', '|', '&', '<', '>', '(', ')', '`', '"', '\'':
			return true
		}
		return false
	})
	var out []string
	for _, f := range fields {
		if _, v, ok := strings.Cut(f, "="); ok {
			f = v
		}
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
