package doctor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidahmann/harness/core/lock"
	"github.com/davidahmann/harness/core/projectconfig"
	"github.com/davidahmann/harness/core/workspace"
)

func newWorkspace(t *testing.T) workspace.Workspace {
	t.Helper()
	ws := workspace.New(t.TempDir(), "", projectconfig.Config{})
	if err := os.MkdirAll(ws.StateDir, 0o750); err != nil {
		t.Fatalf("create state dir: %v", err)
	}
	return ws
}

func foundShell(string) (string, error) { return "/bin/sh", nil }

func checkStatus(checks []Check, name, status string) bool {
	for _, check := range checks {
		if check.Name == name {
			return check.Status == status
		}
	}
	return false
}

func TestRunPassesOnFreshWorkspace(t *testing.T) {
	result := Run(Options{Workspace: newWorkspace(t), ProducerVersion: "test", LookPath: foundShell})
	if result.Status != statusPass || result.Failed() {
		t.Fatalf("expected pass, got %s: %#v", result.Summary, result.Checks)
	}
	if len(result.Checks) != 7 || len(result.FixCommands) != 0 {
		t.Fatalf("unexpected checks: %#v", result)
	}
	if result.SchemaID != "harness.doctor.result" || result.ProducerVersion != "test" {
		t.Fatalf("unexpected envelope: %#v", result)
	}
}

func TestRunWarnsAboutMissingStateDirAndLegacyFile(t *testing.T) {
	ws := workspace.New(t.TempDir(), "", projectconfig.Config{})
	result := Run(Options{Workspace: ws, LookPath: foundShell})
	if !checkStatus(result.Checks, "state_dir", statusWarn) || result.Status != statusWarn {
		t.Fatalf("expected state_dir warning: %#v", result.Checks)
	}

	ws = newWorkspace(t)
	if err := os.WriteFile(ws.LegacyStatePath(), []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	result = Run(Options{Workspace: ws, LookPath: foundShell})
	if !checkStatus(result.Checks, "legacy_state", statusWarn) || len(result.FixCommands) != 1 {
		t.Fatalf("expected legacy_state warning: %#v", result)
	}
}

func TestRunClassifiesSessionFiles(t *testing.T) {
	ws := newWorkspace(t)
	if err := os.WriteFile(ws.SessionPath(), []byte(`{"schema_id":"harness.session","steps":"nope"}`), 0o600); err != nil {
		t.Fatalf("write session: %v", err)
	}
	result := Run(Options{Workspace: ws, LookPath: foundShell})
	if !checkStatus(result.Checks, "session", statusWarn) {
		t.Fatalf("repairable session should warn: %#v", result.Checks)
	}

	if err := os.WriteFile(ws.SessionPath(), []byte(`[1,2,3]`), 0o600); err != nil {
		t.Fatalf("write session: %v", err)
	}
	result = Run(Options{Workspace: ws, LookPath: foundShell})
	if !checkStatus(result.Checks, "session", statusFail) || !result.Failed() {
		t.Fatalf("non-object session should fail: %#v", result.Checks)
	}
}

func TestRunReportsStaleLock(t *testing.T) {
	ws := newWorkspace(t)
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	lockDir := lock.PathFor(ws.SessionPath())
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		t.Fatalf("create lock dir: %v", err)
	}
	owner, err := json.Marshal(lock.Owner{Token: "t", PID: 4242, AcquiredAt: now.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("marshal owner: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, "owner.json"), owner, 0o600); err != nil {
		t.Fatalf("write owner: %v", err)
	}

	result := Run(Options{Workspace: ws, LookPath: foundShell, Now: func() time.Time { return now }})
	if !checkStatus(result.Checks, "lock", statusWarn) {
		t.Fatalf("expected stale lock warning: %#v", result.Checks)
	}

	result = Run(Options{Workspace: ws, LookPath: foundShell, Now: func() time.Time { return now.Add(-59*time.Minute - 50*time.Second) }})
	if !checkStatus(result.Checks, "lock", statusPass) {
		t.Fatalf("fresh lock should pass: %#v", result.Checks)
	}

	staleAfter := ws.Config.LockStaleAfter()
	result = Run(Options{Workspace: ws, LookPath: foundShell, Now: func() time.Time { return now.Add(-time.Hour + staleAfter) }})
	if !checkStatus(result.Checks, "lock", statusPass) {
		t.Fatalf("a lock exactly stale_after old is still live, as for the lock itself: %#v", result.Checks)
	}
}

func TestRunFailsOnInvalidConfigAndMissingShell(t *testing.T) {
	ws := newWorkspace(t)
	if err := os.WriteFile(ws.ConfigPath, []byte("regression:\n  policy: sometimes\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	result := Run(Options{Workspace: ws, LookPath: func(string) (string, error) { return "", errors.New("not found") }})
	if !checkStatus(result.Checks, "config", statusFail) || !checkStatus(result.Checks, "shell", statusFail) {
		t.Fatalf("expected config and shell failures: %#v", result.Checks)
	}
	if !result.NonFixable {
		t.Fatal("missing shell is non-fixable")
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Fatalf("unexpected quote: %s", got)
	}
	if shellQuote("") != "''" {
		t.Fatal("empty value must quote to ''")
	}
}
