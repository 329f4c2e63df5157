package session

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/harness/core/errors"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

func TestParseStepInputsAcceptsStringsAndObjects(t *testing.T) {
	inputs, err := ParseStepInputs([]byte(`["file exists: src/x.ts", {"id": "AC-7", "type": "quality-gate", "description": " tests pass ", "priority": 2, "metadata": {"owner": "ci"}}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(inputs) != 2 || inputs[0].Raw != "file exists: src/x.ts" || inputs[1].Spec == nil {
		t.Fatalf("unexpected inputs %#v", inputs)
	}
	steps, err := NormalizeSteps(inputs, 0, time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if steps[0].ID != "step-001" || steps[0].Type != schemasession.StepTypeAcceptanceCriteria || steps[0].Order != 1 {
		t.Fatalf("unexpected first step %#v", steps[0])
	}
	second := steps[1]
	if second.ID != "step-002" || second.Type != schemasession.StepTypeQualityGate || second.Description != "tests pass" || second.Priority != 2 {
		t.Fatalf("unexpected second step %#v", second)
	}
	if second.Metadata[metadataSourceID] != "AC-7" || second.Metadata["owner"] != "ci" {
		t.Fatalf("unexpected metadata %#v", second.Metadata)
	}
	if second.MaxAttempts != defaultMaxAttempts || second.Status != schemasession.StatusPending {
		t.Fatalf("unexpected defaults %#v", second)
	}

	encoded, err := json.Marshal(inputs)
	if err != nil {
		t.Fatalf("encode inputs: %v", err)
	}
	if _, err := ParseStepInputs(encoded); err != nil {
		t.Fatalf("re-parse encoded inputs: %v", err)
	}
}

func TestNormalizeStepsRejectsBadInput(t *testing.T) {
	if _, err := NormalizeSteps([]StepInput{RawStep("  ")}, 0, time.Now()); coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
		t.Fatalf("expected invalid_input for empty description, got %v", err)
	}
	bad := StepInput{Spec: &StepSpec{Description: "x", Type: "wish"}}
	if _, err := NormalizeSteps([]StepInput{bad}, 0, time.Now()); err == nil {
		t.Fatalf("expected unknown type rejection")
	}
	if _, err := ParseStepInputs([]byte(`[42]`)); err == nil {
		t.Fatalf("expected non string/object step to fail")
	}
}

func TestTranslateLegacyID(t *testing.T) {
	tests := map[string]string{
		"AC-1":     "step-001",
		"ac-12":    "step-012",
		"7":        "step-007",
		"step-3":   "step-003",
		"step-003": "step-003",
		"STEP_10":  "step-010",
	}
	for input, expected := range tests {
		got, ok := TranslateLegacyID(input)
		if !ok || got != expected {
			t.Fatalf("TranslateLegacyID(%q)=%q,%t want %q", input, got, ok, expected)
		}
	}
	for _, input := range []string{"", "AC-0", "criterion", "AC-x"} {
		if _, ok := TranslateLegacyID(input); ok {
			t.Fatalf("expected %q to be untranslatable", input)
		}
	}
}

func TestResolveStep(t *testing.T) {
	s := &schemasession.Session{}
	inputs := []StepInput{RawStep("a"), {Spec: &StepSpec{ID: "AC-1", Description: "b"}}, RawStep("c")}
	if _, err := AppendSteps(s, inputs, time.Now()); err != nil {
		t.Fatalf("append: %v", err)
	}
	tests := map[string]int{
		"step-002": 1,
		"AC-1":     1,
		"3":        2,
		"step-1":   0,
	}
	for ref, expected := range tests {
		index, err := ResolveStep(s, ref)
		if err != nil || index != expected {
			t.Fatalf("ResolveStep(%q)=%d,%v want %d", ref, index, err, expected)
		}
	}
	if _, err := ResolveStep(s, "AC-9"); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}

	added, err := AppendSteps(s, []StepInput{RawStep("d")}, time.Now())
	if err != nil || len(added) != 1 || added[0].ID != "step-004" || added[0].Order != 4 {
		t.Fatalf("unexpected appended step %#v err=%v", added, err)
	}
}
