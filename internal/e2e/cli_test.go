package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidahmann/harness/core/lock"
	"github.com/davidahmann/harness/internal/testutil"
)

const fastLockConfig = `lock:
  retry_limit: 4000
  initial_backoff: 1ms
  max_backoff: 10ms
`

func TestCLIConcurrentProcessesShareOneSession(t *testing.T) {
	binPath := testutil.BuildHarnessBinary(t, testutil.RepoRoot(t))
	workDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(workDir, ".harness", "config.yaml"), []byte(fastLockConfig))

	runHarness(t, binPath, workDir, "init", "--task", "T1", "--steps", `["file exists: docs/guide.md"]`, "--json")

	const workers = 6
	commands := make([]*exec.Cmd, 0, workers)
	for index := range workers {
		// #nosec G204 -- test binary with fixed arguments.
		command := exec.Command(binPath, "add", fmt.Sprintf("worker %d step", index), "--json")
		command.Dir = workDir
		if err := command.Start(); err != nil {
			t.Fatalf("start worker %d: %v", index, err)
		}
		commands = append(commands, command)
	}
	for index, command := range commands {
		if err := command.Wait(); err != nil {
			t.Fatalf("worker %d: %v", index, err)
		}
	}

	status := runHarness(t, binPath, workDir, "status", "--json")
	var decoded struct {
		OK     bool `json:"ok"`
		Status struct {
			Session struct {
				Steps []struct {
					ID string `json:"id"`
				} `json:"steps"`
			} `json:"session"`
		} `json:"status"`
	}
	if err := json.Unmarshal(status, &decoded); err != nil {
		t.Fatalf("decode status: %v\n%s", err, status)
	}
	steps := decoded.Status.Session.Steps
	if len(steps) != workers+1 {
		t.Fatalf("expected %d steps after concurrent adds, got %d", workers+1, len(steps))
	}
	seen := map[string]bool{}
	for index, step := range steps {
		want := fmt.Sprintf("step-%03d", index+1)
		if step.ID != want || seen[step.ID] {
			t.Fatalf("step %d has id %q, want %q", index, step.ID, want)
		}
		seen[step.ID] = true
	}
	if _, err := os.Stat(lock.PathFor(filepath.Join(workDir, ".harness", "session.json"))); !os.IsNotExist(err) {
		t.Fatalf("lock directory should be released, stat err=%v", err)
	}
}

func TestCLIExitCodes(t *testing.T) {
	binPath := testutil.BuildHarnessBinary(t, testutil.RepoRoot(t))
	workDir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(workDir, ".harness", "config.yaml"), []byte(fastLockConfig))

	runHarness(t, binPath, workDir, "init", "--task", "T-exit", "--steps", `["file exists: README.md"]`)
	if code := harnessExitCode(t, binPath, workDir, "check"); code != 2 {
		t.Fatalf("check on incomplete session: expected 2 got %d", code)
	}
	if code := harnessExitCode(t, binPath, workDir, "verify", "step-001"); code != 2 {
		t.Fatalf("verify missing file: expected 2 got %d", code)
	}
	if code := harnessExitCode(t, binPath, workDir, "verify", "Stakeholders agree on the roadmap"); code != 3 {
		t.Fatalf("verify manual description: expected 3 got %d", code)
	}
	testutil.WriteFile(t, filepath.Join(workDir, "README.md"), []byte("# demo\n"))
	runHarness(t, binPath, workDir, "complete", "step-001", "--verify")
	runHarness(t, binPath, workDir, "check")

	runHarness(t, binPath, workDir, "suspend", "--for", "1h", "--reason", "release window")
	if code := harnessExitCode(t, binPath, workDir, "can-resume"); code != 2 {
		t.Fatalf("can-resume before deadline: expected 2 got %d", code)
	}
	if code := harnessExitCode(t, binPath, workDir, "check"); code != 2 {
		t.Fatalf("suspended session is never complete: expected 2 got %d", code)
	}
	runHarness(t, binPath, workDir, "resume", "--force")
	runHarness(t, binPath, workDir, "archive")
	if code := harnessExitCode(t, binPath, workDir, "status"); code != 1 {
		t.Fatalf("status without session: expected 1 got %d", code)
	}
}

func runHarness(t *testing.T, binPath, workDir string, arguments ...string) []byte {
	t.Helper()
	// #nosec G204 -- test binary with fixed arguments.
	command := exec.Command(binPath, arguments...)
	command.Dir = workDir
	output, err := command.Output()
	if err != nil {
		t.Fatalf("harness %s: %v\n%s", strings.Join(arguments, " "), err, output)
	}
	return output
}

func harnessExitCode(t *testing.T, binPath, workDir string, arguments ...string) int {
	t.Helper()
	// #nosec G204 -- test binary with fixed arguments.
	command := exec.Command(binPath, arguments...)
	command.Dir = workDir
	err := command.Run()
	if err == nil {
		return 0
	}
	return testutil.CommandExitCode(t, err)
}
