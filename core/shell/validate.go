package shell

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

type Level string

const (
	LevelSafe       Level = "safe"
	LevelSuspicious Level = "suspicious"
	LevelBlocked    Level = "blocked"
)

type Assessment struct {
	Level   Level    `json:"level"`
	Reasons []string `json:"reasons,omitempty"`
}

func (a Assessment) Blocked() bool {
	return a.Level == LevelBlocked
}

func (a Assessment) Suspicious() bool {
	return a.Level == LevelSuspicious
}

type pattern struct {
	expr   *regexp.Regexp
	reason string
}

var blockedPatterns = []pattern{
	{regexp.MustCompile("`"), "backtick command substitution"},
	{regexp.MustCompile(`\$\(`), "command substitution"},
	{regexp.MustCompile(`\$\{[^}]*[:#%/]`), "parameter expansion with operators"},
	{regexp.MustCompile(`:\s*\(\s*\)\s*\{`), "fork bomb"},
	{regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|disk)`), "write to block device"},
	{regexp.MustCompile(`(?i)\b(curl|wget)\b[^|]*\|\s*(ba|z|k)?sh\b`), "pipe download into shell"},
	{regexp.MustCompile(`\bchmod\s+(-R\s+)?[0-7]*777\s+/`), "world-writable root path"},
	{regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`), "control characters"},
}

var blockedExecutables = map[string]string{
	"dd":       "raw disk copy",
	"eval":     "eval",
	"halt":     "host shutdown",
	"poweroff": "host shutdown",
	"reboot":   "host shutdown",
	"shutdown": "host shutdown",
	"su":       "privilege escalation",
	"sudo":     "privilege escalation",
	"doas":     "privilege escalation",
	"mkfs":     "filesystem format",
	"fdisk":    "partition edit",
	"kill":     "process signalling",
	"pkill":    "process signalling",
	"killall":  "process signalling",
}

var suspiciousOperators = []struct {
	token  string
	reason string
}{
	{"|", "pipe"},
	{";", "command separator"},
	{"&&", "command chaining"},
	{"||", "command chaining"},
	{">", "output redirection"},
	{"<", "input redirection"},
	{"&", "background execution"},
	{"\n", "multi-line command"},
}

// shellWrappers run their -c argument as a script of its own.
var shellWrappers = map[string]bool{
	"sh":   true,
	"bash": true,
	"zsh":  true,
	"dash": true,
	"ksh":  true,
}

// prefixCommands execute the command that follows their own options.
var prefixCommands = map[string]bool{
	"env":     true,
	"nice":    true,
	"nohup":   true,
	"timeout": true,
	"command": true,
	"exec":    true,
	"xargs":   true,
	"time":    true,
	"stdbuf":  true,
	"ionice":  true,
	"builtin": true,
}

const maxWrapperDepth = 4

var prefixOperand = regexp.MustCompile(`^([0-9][0-9.]*[smhd]?|[A-Z][A-Z0-9]*|\{\})$`)

// Validate screens a poll or probe command. Blocked commands must never run;
// suspicious ones are left to the caller's policy.
func Validate(command string) Assessment {
	return validate(command, 0)
}

func validate(command string, depth int) Assessment {
	line := strings.TrimSpace(command)
	if line == "" {
		return Assessment{Level: LevelBlocked, Reasons: []string{"empty command"}}
	}

	assessment := Assessment{Level: LevelSafe}
	for _, candidate := range blockedPatterns {
		if candidate.expr.MatchString(line) {
			assessment.block(candidate.reason)
		}
	}

	for _, segment := range segments(line) {
		words, err := shellquote.Split(segment)
		if err != nil {
			assessment.block(fmt.Sprintf("unparseable quoting: %v", err))
			return assessment
		}
		words = commandWords(words)
		if len(words) == 0 {
			continue
		}
		name := filepath.Base(words[0])
		if strings.HasPrefix(name, "mkfs.") {
			name = "mkfs"
		}
		if reason, found := blockedExecutables[name]; found {
			assessment.block(reason + ": " + name)
		}
		if name == "rm" && recursiveFlag(words[1:]) {
			assessment.block("recursive delete")
		}
		if shellWrappers[name] {
			script, found := inlineScript(words[1:])
			if !found {
				continue
			}
			if depth >= maxWrapperDepth {
				assessment.block("nested shell wrappers")
				continue
			}
			assessment.merge(name+" -c", validate(script, depth+1))
		}
	}

	unquoted := stripQuoted(line)
	seen := map[string]bool{}
	for _, operator := range suspiciousOperators {
		if strings.Contains(unquoted, operator.token) && !seen[operator.reason] {
			seen[operator.reason] = true
			assessment.flag(operator.reason)
		}
	}
	return assessment
}

func (a *Assessment) merge(label string, nested Assessment) {
	for _, reason := range nested.Reasons {
		switch nested.Level {
		case LevelBlocked:
			a.block(label + ": " + reason)
		case LevelSuspicious:
			a.flag(label + ": " + reason)
		}
	}
}

func (a *Assessment) block(reason string) {
	a.Level = LevelBlocked
	a.Reasons = append(a.Reasons, reason)
}

func (a *Assessment) flag(reason string) {
	if a.Level == LevelSafe {
		a.Level = LevelSuspicious
	}
	a.Reasons = append(a.Reasons, reason)
}

// segments splits line on control operators outside quotes.
func segments(line string) []string {
	parts := []string{}
	var current strings.Builder
	var quote rune
	escaped := false
	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			parts = append(parts, text)
		}
		current.Reset()
	}
	for _, r := range line {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '|' || r == ';' || r == '&' || r == '\n':
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return parts
}

// commandWords drops leading VAR=value assignments and prefix commands such
// as env or timeout together with their options, leaving the command that
// actually runs first.
func commandWords(words []string) []string {
	for len(words) > 0 {
		word := words[0]
		if index := strings.IndexByte(word, '='); index > 0 && !strings.ContainsAny(word[:index], "/-.") {
			words = words[1:]
			continue
		}
		if !prefixCommands[filepath.Base(word)] {
			return words
		}
		words = words[1:]
		for len(words) > 0 {
			operand := words[0]
			if !strings.HasPrefix(operand, "-") && !prefixOperand.MatchString(operand) && !strings.Contains(operand, "=") {
				break
			}
			words = words[1:]
		}
	}
	return nil
}

// inlineScript returns the script passed to a shell with -c.
func inlineScript(args []string) (string, bool) {
	for index, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			return "", false
		}
		if strings.HasPrefix(arg, "--") || !strings.Contains(arg[1:], "c") {
			continue
		}
		for _, candidate := range args[index+1:] {
			if !strings.HasPrefix(candidate, "-") {
				return candidate, true
			}
		}
		return "", false
	}
	return "", false
}

func recursiveFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--recursive" {
			return true
		}
		if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") && strings.ContainsAny(arg, "rR") {
			return true
		}
	}
	return false
}

// stripQuoted removes single- and double-quoted spans so operators inside
// string literals are not reported.
func stripQuoted(line string) string {
	var builder strings.Builder
	var quote rune
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			escaped = false
			if quote == 0 {
				continue
			}
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
