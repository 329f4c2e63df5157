package main

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunDispatch(t *testing.T) {
	if code := run([]string{"harness"}); code != exitOK {
		t.Fatalf("run without args: expected %d got %d", exitOK, code)
	}
	if code := run([]string{"harness", "version"}); code != exitOK {
		t.Fatalf("run version: expected %d got %d", exitOK, code)
	}
	if code := run([]string{"harness", "unknown"}); code != exitError {
		t.Fatalf("run unknown: expected %d got %d", exitError, code)
	}
	if code := run([]string{"harness", "--explain"}); code != exitOK {
		t.Fatalf("run explain: expected %d got %d", exitOK, code)
	}
	commands := []string{
		"init", "add", "status", "next", "start", "complete", "fail", "skip", "check", "recheck",
		"suspend", "approve", "can-resume", "resume", "verify", "archive", "stats", "clear", "validate", "doctor",
	}
	for _, command := range commands {
		if code := run([]string{"harness", command, "--help"}); code != exitOK {
			t.Fatalf("run %s help: expected %d got %d", command, exitOK, code)
		}
		if code := run([]string{"harness", command, "--explain"}); code != exitOK {
			t.Fatalf("run %s explain: expected %d got %d", command, exitOK, code)
		}
		if commandExplanations[command] == "" {
			t.Fatalf("missing explanation for %s", command)
		}
	}
	if code := run([]string{"harness", "queue", "status", "--help"}); code != exitOK {
		t.Fatalf("run queue help: expected %d got %d", exitOK, code)
	}
	if code := run([]string{"harness", "queue"}); code != exitError {
		t.Fatalf("run queue without operation: expected %d got %d", exitError, code)
	}
}

func TestMainEntrypoint(t *testing.T) {
	if os.Getenv("HARNESS_TEST_MAIN") == "1" {
		os.Args = []string{"harness", "version"}
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainEntrypoint")
	cmd.Env = append(os.Environ(), "HARNESS_TEST_MAIN=1")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run child process: %v", err)
	}
}

func TestErrorEnvelope(t *testing.T) {
	workDir := newProject(t)

	code, output := runJSON(t, "status", "--workdir", workDir)
	if code != exitError {
		t.Fatalf("status without session: expected %d got %d", exitError, code)
	}
	if output["ok"] != false || output["error_code"] != "no_session" || output["error_category"] != "not_found" {
		t.Fatalf("unexpected envelope: %#v", output)
	}
	if output["retryable"] != false || !strings.Contains(asString(output["hint"]), "harness init") {
		t.Fatalf("unexpected hint fields: %#v", output)
	}

	code, output = runJSON(t, "init", "--bogus", "--workdir", workDir)
	if code != exitError {
		t.Fatalf("init with unknown flag: expected %d got %d", exitError, code)
	}
	if output["error_category"] != "invalid_input" || output["error_code"] != "invalid_input" || output["hint"] == "" {
		t.Fatalf("unexpected parse error envelope: %#v", output)
	}

	for _, command := range []string{"status", "clear", "queue"} {
		arguments := []string{command}
		if command == "queue" {
			arguments = append(arguments, "status")
		}
		code, output = runJSON(t, append(arguments, "--bogus", "--workdir", workDir)...)
		if code != exitError || output["ok"] != false || output["error_category"] != "invalid_input" || output["hint"] == "" {
			t.Fatalf("%s with unknown flag before --json: code=%d output=%#v", command, code, output)
		}
	}

	code, output = runJSON(t, "init", "--workdir", workDir)
	if code != exitError || output["error_code"] != "task_required" {
		t.Fatalf("init without task: code=%d output=%#v", code, output)
	}
}

func TestTextOutputAndWorkingDirDefault(t *testing.T) {
	workDir := newProject(t)
	withWorkingDir(t, workDir)

	var code int
	raw := captureStdout(t, func() {
		code = run([]string{"harness", "init", "--task", "T-text", "--steps", `["write the changelog"]`})
	})
	if code != exitOK || !strings.Contains(raw, "session created: task=T-text") {
		t.Fatalf("init text: code=%d output=%q", code, raw)
	}
	raw = captureStdout(t, func() {
		code = run([]string{"harness", "status"})
	})
	if code != exitOK || !strings.Contains(raw, "T-text (feature)") || !strings.Contains(raw, "step-001") {
		t.Fatalf("status text: code=%d output=%q", code, raw)
	}
	raw = captureStdout(t, func() {
		code = run([]string{"harness", "next"})
	})
	if code != exitOK || !strings.Contains(raw, "next: step-001 [pending] write the changelog") {
		t.Fatalf("next text: code=%d output=%q", code, raw)
	}
	raw = captureStdout(t, func() {
		code = run([]string{"harness", "clear"})
	})
	if code != exitOK || !strings.Contains(raw, "session cleared") {
		t.Fatalf("clear text: code=%d output=%q", code, raw)
	}
}

func newProject(t *testing.T) string {
	t.Helper()
	workDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workDir, ".harness"), 0o750); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}
	return workDir
}

// runJSON runs one command with --json and decodes its single output line.
func runJSON(t *testing.T, arguments ...string) (int, map[string]any) {
	t.Helper()
	var code int
	raw := captureStdout(t, func() {
		code = run(append([]string{"harness"}, append(arguments, "--json")...))
	})
	output := map[string]any{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &output); err != nil {
		t.Fatalf("decode %v output %q: %v", arguments, raw, err)
	}
	return code, output
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	original := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = writer
	defer func() {
		os.Stdout = original
	}()

	type readResult struct {
		raw []byte
		err error
	}
	resultCh := make(chan readResult, 1)
	go func() {
		raw, readErr := io.ReadAll(reader)
		resultCh <- readResult{raw: raw, err: readErr}
	}()

	fn()

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	result := <-resultCh
	if result.err != nil {
		t.Fatalf("read stdout: %v", result.err)
	}
	return string(result.raw)
}

func withWorkingDir(t *testing.T, path string) {
	t.Helper()
	current, err := os.Getwd()
	if err != nil {
		t.Fatalf("get wd: %v", err)
	}
	if err := os.Chdir(path); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(current)
	})
}

func nested(t *testing.T, output map[string]any, keys ...string) any {
	t.Helper()
	var current any = output
	for _, key := range keys {
		object, ok := current.(map[string]any)
		if !ok {
			t.Fatalf("%v: %q is not an object in %#v", keys, key, output)
		}
		current = object[key]
	}
	return current
}
