package policy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ShellDecision is the classifier verdict for a shell command.
type ShellDecision string

const (
	ShellAllow         ShellDecision = "allow"
	ShellDeny          ShellDecision = "deny"
	ShellNeedsApproval ShellDecision = "needs_approval"
)

// Shell verdict categories.
const (
	CategoryChaining     = "command chaining"
	CategoryConditional  = "conditional chaining"
	CategoryPipe         = "pipe"
	CategoryRedirection  = "redirection"
	CategoryBackground   = "background execution"
	CategorySubstitution = "command substitution"
	CategoryMultiline    = "multi-line command"
	CategoryUnterminated = "unterminated quote"
	CategoryDestructive  = "destructive command"
	CategoryUnknown      = "unrecognized command"
	CategoryEmpty        = "empty command"
	CategorySafe         = "read-only command"
)

// ShellVerdict is the result of EvaluateShellCommand.
type ShellVerdict struct {
	Decision ShellDecision `json:"decision"`
	Category string        `json:"category"`
	Reason   string        `json:"reason"`
}

// read-only commands that run without approval
var safeCommands = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "pwd": true,
	"echo": true, "grep": true, "rg": true, "wc": true, "which": true,
	"file": true, "stat": true, "tree": true, "du": true, "df": true,
	"date": true, "whoami": true,
}

var safeGitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "branch": true,
	"rev-parse": true, "ls-files": true, "blame": true,
}

var (
	envAssignRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
	devRedirRe  = regexp.MustCompile(`>\s*/dev/`)
	devBenignRe = regexp.MustCompile(`>\s*/dev/(null|stdout|stderr|tty)\b`)
)

// EvaluateShellCommand classifies a shell command line.
//
// Destructive commands are denied wherever they appear in the line. Any
// unquoted, unescaped metacharacter then requires approval. A remaining
// simple command is allowed when its base name is on the read-only allowlist.
func EvaluateShellCommand(command string) ShellVerdict {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return ShellVerdict{Decision: ShellNeedsApproval, Category: CategoryEmpty, Reason: "empty command"}
	}

	if reason, ok := destructive(cmd); ok {
		return ShellVerdict{Decision: ShellDeny, Category: CategoryDestructive, Reason: reason}
	}

	if category, token := scanMetachar(cmd); category != "" {
		return ShellVerdict{
			Decision: ShellNeedsApproval,
			Category: category,
			Reason:   fmt.Sprintf("command contains %s (%q)", category, token),
		}
	}

	fields := stripEnv(strings.Fields(cmd))
	if len(fields) == 0 {
		return ShellVerdict{Decision: ShellNeedsApproval, Category: CategoryEmpty, Reason: "only environment assignments"}
	}
	base := filepath.Base(fields[0])
	if safeCommands[base] {
		return ShellVerdict{Decision: ShellAllow, Category: CategorySafe, Reason: base + " is read-only"}
	}
	if base == "git" {
		if sub := gitSubcommand(fields[1:]); safeGitSubcommands[sub] {
			return ShellVerdict{Decision: ShellAllow, Category: CategorySafe, Reason: "git " + sub + " is read-only"}
		}
	}
	return ShellVerdict{
		Decision: ShellNeedsApproval,
		Category: CategoryUnknown,
		Reason:   fmt.Sprintf("%s is not on the read-only allowlist", base),
	}
}

// scanMetachar returns the category and text of the first metacharacter
// outside quotes. Inside double quotes only substitutions count.
func scanMetachar(cmd string) (category, token string) {
	var inSingle, inDouble, escaped bool
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		next := byte(0)
		if i+1 < len(cmd) {
			next = cmd[i+1]
		}

		if escaped {
			escaped = false
			continue
		}
		if inSingle {
			if c == '\'' {
				inSingle = false
			}
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if inDouble {
			switch {
			case c == '"':
				inDouble = false
			case c == '`':
				return CategorySubstitution, "`"
			case c == '$' && next == '(':
				return CategorySubstitution, "$("
			}
			continue
		}

		switch c {
		case '\'':
			inSingle = true
		case '"':
			inDouble = true
		case ';':
			return CategoryChaining, ";"
		case '&':
			if next == '&' {
				return CategoryConditional, "&&"
			}
			return CategoryBackground, "&"
		case '|':
			if next == '|' {
				return CategoryConditional, "||"
			}
			return CategoryPipe, "|"
		case '<', '>':
			return CategoryRedirection, string(c)
		case '`':
			return CategorySubstitution, "`"
		case '$':
			if next == '(' {
				return CategorySubstitution, "$("
			}
		case '\n', '\r':
			return CategoryMultiline, "newline"
		}
	}
	if inSingle || inDouble {
		return CategoryUnterminated, "quote"
	}
	return "", ""
}

// destructive checks every command position of the line against the denylist.
// Quoted text is data and never a command position.
func destructive(cmd string) (string, bool) {
	segments, bare := splitCommands(cmd)
	if devRedirRe.MatchString(devBenignRe.ReplaceAllString(bare, "")) {
		return "redirecting output into /dev is not allowed", true
	}

	for _, seg := range segments {
		fields := stripEnv(strings.Fields(seg))
		if len(fields) == 0 {
			continue
		}
		name := filepath.Base(unquote(fields[0]))
		args := fields[1:]
		switch {
		case name == "sudo":
			return "sudo is not allowed", true
		case name == "shutdown" || name == "reboot" || name == "halt" || name == "poweroff":
			return name + " is not allowed", true
		case name == "mkfs" || strings.HasPrefix(name, "mkfs."):
			return "mkfs is not allowed", true
		case name == "format":
			return "format is not allowed", true
		case name == "dd":
			for _, a := range args {
				if strings.HasPrefix(unquote(a), "if=") {
					return "dd if= is not allowed", true
				}
			}
		case name == "rm":
			if rmRootForce(args) {
				return "recursive forced removal of / or ~ is not allowed", true
			}
		}
	}
	return "", false
}

// splitCommands cuts cmd at every unquoted separator and at command
// substitutions, using the same quote and escape rules as scanMetachar.
// bare is cmd with quoted and escaped characters blanked.
func splitCommands(cmd string) (segments []string, bare string) {
	var (
		inSingle, inDouble, escaped bool
		subst                       int // open $( inside double quotes
		cur                         strings.Builder
	)
	blank := []byte(cmd)
	cut := func() {
		segments = append(segments, cur.String())
		cur.Reset()
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		next := byte(0)
		if i+1 < len(cmd) {
			next = cmd[i+1]
		}

		switch {
		case escaped:
			escaped = false
			blank[i] = ' '
			cur.WriteByte(c)
			continue
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
			blank[i] = ' '
			cur.WriteByte(c)
			continue
		case c == '\\':
			escaped = true
			blank[i] = ' '
			cur.WriteByte(c)
			continue
		}

		if inDouble {
			switch {
			case c == '"' && subst == 0:
				inDouble = false
				blank[i] = ' '
				cur.WriteByte(c)
			case c == '`':
				cut()
			case c == '$' && next == '(':
				subst++
				i++
				cut()
			case c == ')' && subst > 0:
				subst--
				cut()
			default:
				if subst == 0 {
					blank[i] = ' '
				}
				cur.WriteByte(c)
			}
			continue
		}

		switch c {
		case '\'':
			inSingle = true
			blank[i] = ' '
			cur.WriteByte(c)
		case '"':
			inDouble = true
			blank[i] = ' '
			cur.WriteByte(c)
		case ';', '&', '|', '\n', '\r', '(', ')', '`':
			cut()
		default:
			cur.WriteByte(c)
		}
	}
	cut()
	return segments, string(blank)
}

var rmRoots = map[string]bool{
	"/": true, "~": true, "~/": true,
	"$HOME": true, "$HOME/": true, "${HOME}": true, "${HOME}/": true,
}

func rmRootForce(args []string) bool {
	var recursive, force, root bool
	for _, a := range args {
		a = unquote(a)
		switch {
		case a == "--recursive":
			recursive = true
		case a == "--force":
			force = true
		case strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--"):
			recursive = recursive || strings.ContainsAny(a, "rR")
			force = force || strings.Contains(a, "f")
		default:
			root = root || rmRoots[strings.TrimSuffix(a, "*")]
		}
	}
	return recursive && force && root
}

func stripEnv(fields []string) []string {
	for len(fields) > 0 && envAssignRe.MatchString(fields[0]) {
		fields = fields[1:]
	}
	return fields
}

func gitSubcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-C" || a == "-c" {
			i++
			continue
		}
		if strings.HasPrefix(a, "-") {
			continue
		}
		return a
	}
	return ""
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
