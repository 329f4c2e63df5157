// Package oracle maps a free-text step description onto a concrete
// filesystem or process check. Detectors are tried in order and the first one
// that recognizes the description decides the verdict.
package oracle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/harness/core/logging"
	"github.com/davidahmann/harness/core/shell"
)

type Verdict string

const (
	VerdictPass          Verdict = "pass"
	VerdictFail          Verdict = "fail"
	VerdictIndeterminate Verdict = "indeterminate"
)

const (
	DetectorUIInteraction = "ui-interaction"
	DetectorFileExists    = "file-exists"
	DetectorFunction      = "function-export"
	DetectorUIComponent   = "ui-component"
	DetectorCLICommand    = "cli-command"
	DetectorConfigKey     = "config-key"
	DetectorWiring        = "wiring"
	DetectorTestsPass     = "tests-pass"
	DetectorLintClean     = "lint-clean"
	DetectorManual        = "manual"
)

type Result struct {
	Verdict    Verdict           `json:"verdict"`
	Message    string            `json:"message"`
	Detector   string            `json:"detector"`
	Suggestion string            `json:"suggestion,omitempty"`
	Evidence   map[string]string `json:"evidence,omitempty"`
}

func (r Result) Passed() bool {
	return r.Verdict == VerdictPass
}

func (r Result) Failed() bool {
	return r.Verdict == VerdictFail
}

// Env is what a detector may touch: the project root and a command runner.
type Env struct {
	Root        string
	Runner      shell.Runner
	Timeout     time.Duration
	TestCommand string
	LintCommand string
	Logger      *zap.Logger
}

// Detector recognizes one shape of description. ok=false means the
// description is not for this detector and the next one is tried.
type Detector interface {
	Name() string
	Detect(ctx context.Context, env Env, description string) (result Result, ok bool)
}

type Oracle struct {
	env       Env
	detectors []Detector
}

// New builds an oracle. With no detectors the default ordered set is used.
func New(env Env, detectors ...Detector) *Oracle {
	if env.Runner == nil {
		env.Runner = shell.ExecRunner{}
	}
	if env.Timeout <= 0 {
		env.Timeout = 2 * time.Minute
	}
	env.Logger = logging.OrNop(env.Logger)
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Oracle{env: env, detectors: detectors}
}

// DefaultDetectors returns the built-in detectors, most specific first.
func DefaultDetectors() []Detector {
	return []Detector{
		uiInteractionDetector{},
		fileExistsDetector{},
		functionDetector{},
		componentDetector{},
		cliCommandDetector{},
		configKeyDetector{},
		wiringDetector{},
		testsPassDetector{},
		lintCleanDetector{},
	}
}

func (o *Oracle) Verify(ctx context.Context, description string) Result {
	text := strings.TrimSpace(description)
	for _, detector := range o.detectors {
		result, ok := detector.Detect(ctx, o.env, text)
		if !ok {
			continue
		}
		if result.Detector == "" {
			result.Detector = detector.Name()
		}
		o.env.Logger.Debug("oracle verdict",
			zap.String("detector", result.Detector),
			zap.String("verdict", string(result.Verdict)),
			zap.String("description", text),
		)
		return result
	}
	return Result{
		Verdict:    VerdictIndeterminate,
		Message:    "no automatic check matches this description",
		Detector:   DetectorManual,
		Suggestion: "verify manually: " + text,
	}
}

func (o *Oracle) DetectorNames() []string {
	names := make([]string, 0, len(o.detectors))
	for _, detector := range o.detectors {
		names = append(names, detector.Name())
	}
	return names
}

func pass(message string, evidence map[string]string) Result {
	return Result{Verdict: VerdictPass, Message: message, Evidence: evidence}
}

func fail(message string, evidence map[string]string) Result {
	return Result{Verdict: VerdictFail, Message: message, Evidence: evidence}
}

func indeterminate(message, suggestion string) Result {
	return Result{Verdict: VerdictIndeterminate, Message: message, Suggestion: suggestion}
}
