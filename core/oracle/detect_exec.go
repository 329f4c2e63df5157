package oracle

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/davidahmann/harness/core/shell"
)

var (
	backtickCommandPattern = regexp.MustCompile("`([^`]+)`")
	commandWordPattern     = regexp.MustCompile(`(?i)\b(command|cli|runs?|succeeds?|exits?\s+(?:with\s+)?(?:code\s+)?0|works|executes?)\b`)
	testsPassPattern       = regexp.MustCompile(`(?i)\b(all\s+)?(unit\s+|integration\s+)?tests?\s+(pass|passes|passing|succeed|green)\b|\btest\s+suite\s+(passes|is green)\b`)
	lintCleanPattern       = regexp.MustCompile(`(?i)\b(lint|linter|linting)\b.*\b(clean|pass(es)?|no\s+(errors|warnings)|succeeds?)\b|\bno\s+lint\s+(errors|warnings)\b`)
)

type cliCommandDetector struct{}

func (cliCommandDetector) Name() string { return DetectorCLICommand }

func (cliCommandDetector) Detect(ctx context.Context, env Env, description string) (Result, bool) {
	match := backtickCommandPattern.FindStringSubmatch(description)
	if match == nil || !commandWordPattern.MatchString(description) {
		return Result{}, false
	}
	line := strings.TrimSpace(match[1])
	if line == "" || (looksLikePath(line) && !strings.Contains(line, " ")) {
		return Result{}, false
	}
	return runCheck(ctx, env, DetectorCLICommand, line), true
}

type testsPassDetector struct{}

func (testsPassDetector) Name() string { return DetectorTestsPass }

func (testsPassDetector) Detect(ctx context.Context, env Env, description string) (Result, bool) {
	if !testsPassPattern.MatchString(description) {
		return Result{}, false
	}
	line := strings.TrimSpace(env.TestCommand)
	if line == "" {
		line = inferCommand(env.Root, "go test ./...", "npm test --silent", "pytest -q", "cargo test --quiet")
	}
	if line == "" {
		return indeterminate("no test command configured or detected", "set oracle.test_command in .harness/config.yaml"), true
	}
	return runCheck(ctx, env, DetectorTestsPass, line), true
}

type lintCleanDetector struct{}

func (lintCleanDetector) Name() string { return DetectorLintClean }

func (lintCleanDetector) Detect(ctx context.Context, env Env, description string) (Result, bool) {
	if !lintCleanPattern.MatchString(description) {
		return Result{}, false
	}
	line := strings.TrimSpace(env.LintCommand)
	if line == "" {
		line = inferCommand(env.Root, "go vet ./...", "npm run lint --silent", "", "cargo clippy --quiet")
	}
	if line == "" {
		return indeterminate("no lint command configured or detected", "set oracle.lint_command in .harness/config.yaml"), true
	}
	return runCheck(ctx, env, DetectorLintClean, line), true
}

// inferCommand picks a command from the project's build manifest.
func inferCommand(root, goCommand, nodeCommand, pythonCommand, rustCommand string) string {
	candidates := []struct {
		manifest string
		command  string
	}{
		{"go.mod", goCommand},
		{"package.json", nodeCommand},
		{"pyproject.toml", pythonCommand},
		{"Cargo.toml", rustCommand},
	}
	for _, candidate := range candidates {
		if candidate.command == "" {
			continue
		}
		if _, ok := exists(filepath.Join(root, candidate.manifest)); ok {
			return candidate.command
		}
	}
	return ""
}

// runCheck screens and runs line. Blocked or suspicious commands, timeouts and
// launch failures are indeterminate; only a real exit status decides.
func runCheck(ctx context.Context, env Env, detector, line string) Result {
	evidence := map[string]string{"command": line}
	assessment := shell.Validate(line)
	if assessment.Blocked() || assessment.Suspicious() {
		result := indeterminate(
			fmt.Sprintf("command not run (%s): %s", assessment.Level, strings.Join(assessment.Reasons, ", ")),
			"run manually: "+line,
		)
		result.Evidence = evidence
		return result
	}
	outcome, err := env.Runner.Run(ctx, shell.Command{Line: line, Dir: env.Root, Timeout: env.Timeout})
	if err != nil {
		env.Logger.Warn("oracle command failed to start", zap.String("detector", detector), zap.Error(err))
		result := indeterminate(fmt.Sprintf("command could not run: %v", err), "run manually: "+line)
		result.Evidence = evidence
		return result
	}
	evidence["exit_code"] = fmt.Sprintf("%d", outcome.ExitCode)
	if outcome.TimedOut {
		result := indeterminate(fmt.Sprintf("command timed out after %s", env.Timeout), "run manually: "+line)
		result.Evidence = evidence
		return result
	}
	if outcome.ExitCode != 0 {
		evidence["output"] = lastLines(outcome.Stdout+outcome.Stderr, 20)
		return fail(fmt.Sprintf("%s exited %d", line, outcome.ExitCode), evidence)
	}
	return pass(fmt.Sprintf("%s exited 0", line), evidence)
}

func lastLines(output string, count int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > count {
		lines = lines[len(lines)-count:]
	}
	return strings.Join(lines, "\n")
}
