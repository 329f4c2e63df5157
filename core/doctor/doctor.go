// Package doctor inspects a project's harness state and reports problems
// with a suggested fix for each.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/davidahmann/harness/core/fsx"
	"github.com/davidahmann/harness/core/lock"
	"github.com/davidahmann/harness/core/projectconfig"
	"github.com/davidahmann/harness/core/schema/validate"
	"github.com/davidahmann/harness/core/workspace"
)

const (
	statusPass = "pass"
	statusWarn = "warn"
	statusFail = "fail"
)

type Options struct {
	Workspace       workspace.Workspace
	ProducerVersion string
	Now             func() time.Time
	// LookPath is exec.LookPath unless a test replaces it.
	LookPath func(string) (string, error)
}

type Result struct {
	SchemaID        string   `json:"schema_id"`
	SchemaVersion   string   `json:"schema_version"`
	CreatedAt       string   `json:"created_at"`
	ProducerVersion string   `json:"producer_version"`
	Status          string   `json:"status"`
	NonFixable      bool     `json:"non_fixable"`
	Summary         string   `json:"summary"`
	FixCommands     []string `json:"fix_commands"`
	Checks          []Check  `json:"checks"`
}

type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	FixCommand string `json:"fix_command,omitempty"`
	NonFixable bool   `json:"non_fixable,omitempty"`
}

func Run(opts Options) Result {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	producerVersion := strings.TrimSpace(opts.ProducerVersion)
	if producerVersion == "" {
		producerVersion = "0.0.0-dev"
	}
	ws := opts.Workspace

	checks := []Check{
		checkStateDir(ws.StateDir),
		checkConfig(ws.ConfigPath),
		checkSession(ws.SessionPath()),
		checkHistory(ws.HistoryPath()),
		checkLock(ws.SessionPath(), ws.Config.LockStaleAfter(), now().UTC()),
		checkLegacyState(ws.LegacyStatePath()),
		checkShell(lookPath),
	}

	failed := 0
	warned := 0
	nonFixable := false
	fixCommands := make([]string, 0, len(checks))
	seenFixes := map[string]struct{}{}
	for _, check := range checks {
		switch check.Status {
		case statusFail:
			failed++
		case statusWarn:
			warned++
		}
		if check.NonFixable {
			nonFixable = true
		}
		if check.FixCommand != "" {
			if _, ok := seenFixes[check.FixCommand]; !ok {
				seenFixes[check.FixCommand] = struct{}{}
				fixCommands = append(fixCommands, check.FixCommand)
			}
		}
	}

	status := statusPass
	if failed > 0 {
		status = statusFail
	} else if warned > 0 {
		status = statusWarn
	}

	sort.Strings(fixCommands)
	summary := fmt.Sprintf("doctor: status=%s failed=%d warned=%d non_fixable=%t", status, failed, warned, nonFixable)

	return Result{
		SchemaID:        "harness.doctor.result",
		SchemaVersion:   "1.0.0",
		CreatedAt:       now().UTC().Format(time.RFC3339Nano),
		ProducerVersion: producerVersion,
		Status:          status,
		NonFixable:      nonFixable,
		Summary:         summary,
		FixCommands:     fixCommands,
		Checks:          checks,
	}
}

func (r Result) Failed() bool {
	return r.Status == statusFail
}

func checkStateDir(stateDir string) Check {
	info, err := os.Stat(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Check{
				Name:       "state_dir",
				Status:     statusWarn,
				Message:    "state directory does not exist yet",
				FixCommand: "harness init --task <id> --steps-file <file>",
			}
		}
		return Check{
			Name:    "state_dir",
			Status:  statusFail,
			Message: fmt.Sprintf("state directory not accessible: %v", err),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:       "state_dir",
			Status:     statusFail,
			Message:    "state path is not a directory",
			NonFixable: true,
		}
	}
	testPath := filepath.Join(stateDir, ".harness-doctor-writecheck")
	if err := os.WriteFile(testPath, []byte("ok"), 0o600); err != nil {
		return Check{
			Name:       "state_dir",
			Status:     statusFail,
			Message:    fmt.Sprintf("state directory not writable: %v", err),
			FixCommand: fmt.Sprintf("chmod u+w %s", shellQuote(stateDir)),
		}
	}
	_ = os.Remove(testPath)
	return Check{
		Name:    "state_dir",
		Status:  statusPass,
		Message: "state directory is writable",
	}
}

func checkConfig(configPath string) Check {
	if _, err := projectconfig.Load(configPath, true); err != nil {
		return Check{
			Name:       "config",
			Status:     statusFail,
			Message:    fmt.Sprintf("config invalid: %v", err),
			FixCommand: fmt.Sprintf("fix or remove %s", shellQuote(configPath)),
		}
	}
	if _, found, _ := fsx.ReadFileIfExists(configPath); !found {
		return Check{
			Name:    "config",
			Status:  statusPass,
			Message: "no config file; defaults apply",
		}
	}
	return Check{
		Name:    "config",
		Status:  statusPass,
		Message: "config parses",
	}
}

func checkSession(sessionPath string) Check {
	payload, found, err := fsx.ReadFileIfExists(sessionPath)
	if err != nil {
		return Check{
			Name:    "session",
			Status:  statusFail,
			Message: fmt.Sprintf("session unreadable: %v", err),
		}
	}
	if !found {
		return Check{
			Name:    "session",
			Status:  statusPass,
			Message: "no active session",
		}
	}
	if err := validate.ValidateSession(payload); err != nil {
		var object map[string]json.RawMessage
		if json.Unmarshal(payload, &object) != nil {
			return Check{
				Name:       "session",
				Status:     statusFail,
				Message:    "session file is not a JSON object",
				FixCommand: "harness clear",
			}
		}
		return Check{
			Name:       "session",
			Status:     statusWarn,
			Message:    fmt.Sprintf("session does not match schema and will be repaired on load: %v", err),
			FixCommand: "harness validate",
		}
	}
	return Check{
		Name:    "session",
		Status:  statusPass,
		Message: "session matches schema",
	}
}

func checkHistory(historyPath string) Check {
	payload, found, err := fsx.ReadFileIfExists(historyPath)
	if err != nil || !found {
		return Check{
			Name:    "history",
			Status:  statusPass,
			Message: "no history yet",
		}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		return Check{
			Name:       "history",
			Status:     statusWarn,
			Message:    fmt.Sprintf("history is not a JSON array and will be reset on next archive: %v", err),
			FixCommand: fmt.Sprintf("mv %s %s.bak", shellQuote(historyPath), shellQuote(historyPath)),
		}
	}
	return Check{
		Name:    "history",
		Status:  statusPass,
		Message: fmt.Sprintf("history holds %d sessions", len(entries)),
	}
}

func checkLock(sessionPath string, staleAfter time.Duration, now time.Time) Check {
	owner, held, err := lock.Inspect(sessionPath)
	if err != nil {
		return Check{
			Name:    "lock",
			Status:  statusFail,
			Message: err.Error(),
		}
	}
	if !held {
		return Check{
			Name:    "lock",
			Status:  statusPass,
			Message: "session lock is free",
		}
	}
	age := now.Sub(owner.AcquiredAt)
	if lock.IsStale(age, staleAfter) {
		return Check{
			Name:       "lock",
			Status:     statusWarn,
			Message:    fmt.Sprintf("session lock held by pid %d for %s; it is stale and will be reclaimed", owner.PID, age.Round(time.Second)),
			FixCommand: fmt.Sprintf("rm -r %s", shellQuote(lock.PathFor(sessionPath))),
		}
	}
	return Check{
		Name:    "lock",
		Status:  statusPass,
		Message: fmt.Sprintf("session lock held by pid %d", owner.PID),
	}
}

func checkLegacyState(legacyPath string) Check {
	if _, err := os.Stat(legacyPath); err == nil {
		return Check{
			Name:       "legacy_state",
			Status:     statusWarn,
			Message:    "deprecated loop-state.json present; it is removed when a new session is created",
			FixCommand: fmt.Sprintf("rm %s", shellQuote(legacyPath)),
		}
	}
	return Check{
		Name:    "legacy_state",
		Status:  statusPass,
		Message: "no legacy state file",
	}
}

func checkShell(lookPath func(string) (string, error)) Check {
	if _, err := lookPath("sh"); err != nil {
		return Check{
			Name:       "shell",
			Status:     statusFail,
			Message:    "sh not found on PATH; poll conditions and command checks cannot run",
			NonFixable: true,
		}
	}
	return Check{
		Name:    "shell",
		Status:  statusPass,
		Message: "sh is available",
	}
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
