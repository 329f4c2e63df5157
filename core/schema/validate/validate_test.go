package validate

import (
	"os"
	"path/filepath"
	"testing"
)

const validSession = `{
  "schema_id": "harness.session",
  "schema_version": "1.0.0",
  "id": "sess-1",
  "task_id": "T1",
  "created_at": "2026-01-02T03:04:05Z",
  "steps": [
    {"id": "step-001", "type": "acceptance-criteria", "description": "File src/x.ts exists", "status": "pending", "attempts": 0}
  ],
  "execution": {"current_step_index": -1, "iteration": 0, "total_retries": 0},
  "suspension": null,
  "metrics": {"steps_completed": 0}
}`

func TestValidateSessionAcceptsWellFormedDocument(t *testing.T) {
	if err := ValidateSession([]byte(validSession)); err != nil {
		t.Fatalf("expected valid session: %v", err)
	}
}

func TestValidateSessionRejectsUnknownStepStatus(t *testing.T) {
	doc := `{
  "schema_id": "harness.session",
  "schema_version": "1.0.0",
  "id": "sess-1",
  "task_id": "T1",
  "created_at": "2026-01-02T03:04:05Z",
  "steps": [{"id": "step-001", "type": "custom", "description": "x", "status": "exploded", "attempts": 0}],
  "execution": {"current_step_index": -1, "iteration": 0, "total_retries": 0},
  "metrics": {}
}`
	if err := ValidateSession([]byte(doc)); err == nil {
		t.Fatalf("expected unknown status to fail validation")
	}
}

func TestValidateSessionRejectsMissingTaskID(t *testing.T) {
	doc := `{"schema_id":"harness.session","schema_version":"1.0.0","id":"s","created_at":"2026-01-02T03:04:05Z","steps":[],"execution":{"current_step_index":-1,"iteration":0,"total_retries":0},"metrics":{}}`
	if err := ValidateSession([]byte(doc)); err == nil {
		t.Fatalf("expected missing task_id to fail validation")
	}
}

func TestValidateStepsFile(t *testing.T) {
	if err := ValidateStepsFile([]byte(`["write the parser", {"id": "AC-2", "description": "tests pass"}]`)); err != nil {
		t.Fatalf("expected mixed step list to validate: %v", err)
	}
	if err := ValidateStepsFile([]byte(`[]`)); err == nil {
		t.Fatalf("expected empty step list to fail")
	}
	if err := ValidateStepsFile([]byte(`[{"id": "AC-2"}]`)); err == nil {
		t.Fatalf("expected step object without description to fail")
	}
}

func TestValidateJSONFileAndUnknownSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte(validSession), 0o600); err != nil {
		t.Fatalf("write session: %v", err)
	}
	if err := ValidateJSONFile(SessionSchema, path); err != nil {
		t.Fatalf("validate file: %v", err)
	}
	if err := ValidateJSON("nope", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown schema error")
	}
	names := SchemaNames()
	if len(names) != 2 || names[0] != SessionSchema || names[1] != StepsSchema {
		t.Fatalf("unexpected schema names %v", names)
	}
}
