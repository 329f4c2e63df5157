package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDoctorCommand(t *testing.T) {
	workDir := newProject(t)
	code, output := runJSON(t, "doctor", "--workdir", workDir)
	if code != exitOK || output["ok"] != true || output["schema_id"] != "harness.doctor.result" {
		t.Fatalf("doctor on fresh project: code=%d output=%#v", code, output)
	}

	if err := os.WriteFile(filepath.Join(workDir, ".harness", "config.yaml"), []byte("regression:\n  policy: sometimes\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	code, output = runJSON(t, "doctor", "--workdir", workDir)
	if code != exitError || output["status"] != "fail" {
		t.Fatalf("doctor with invalid config: code=%d output=%#v", code, output)
	}
	checks, _ := output["checks"].([]any)
	found := false
	for _, raw := range checks {
		check := raw.(map[string]any)
		if check["name"] == "config" && check["status"] == "fail" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failing config check: %#v", checks)
	}

	if code, _ = runJSON(t, "doctor", "extra", "--workdir", workDir); code != exitError {
		t.Fatalf("doctor with positional: expected %d got %d", exitError, code)
	}
}
