package learn

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

func sampleEntry() schemasession.ArchiveEntry {
	archivedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return schemasession.ArchiveEntry{
		FinalStatus:     schemasession.FinalCompleted,
		ArchivedAt:      archivedAt,
		DurationSeconds: 90,
		Session: schemasession.Session{
			ID:        "sess-1",
			TaskID:    "T1",
			TaskType:  "feature",
			Execution: schemasession.Execution{Iteration: 3, TotalRetries: 1},
			Metrics:   schemasession.Metrics{Regressions: 1},
			Steps: []schemasession.Step{
				{ID: "step-001", Description: "file exists: src/x.ts", Status: schemasession.StatusCompleted, Attempts: 2,
					VerificationProof: &schemasession.VerificationProof{Verdict: "pass", VerifiedAt: archivedAt}},
				{ID: "step-002", Description: "tests pass", Status: schemasession.StatusSkipped},
			},
		},
	}
}

func TestJournalHookAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".harness", "learnings.jsonl")
	hook := JournalHook{Path: path}
	for range 2 {
		if err := hook.SessionCompleted(context.Background(), sampleEntry()); err != nil {
			t.Fatalf("append learning: %v", err)
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two records, got %d", len(lines))
	}
	var record Record
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.SchemaID != RecordSchemaID || record.TaskID != "T1" || record.Iterations != 3 || record.Regressions != 1 {
		t.Fatalf("unexpected record %#v", record)
	}
	if len(record.Steps) != 2 || record.Steps[0].Verdict != "pass" || record.Steps[1].Status != schemasession.StatusSkipped {
		t.Fatalf("unexpected step outcomes %#v", record.Steps)
	}
}

func TestHookFuncAdapter(t *testing.T) {
	sentinel := errors.New("boom")
	var hook Hook = HookFunc(func(_ context.Context, entry schemasession.ArchiveEntry) error {
		if entry.Session.TaskID != "T1" {
			t.Fatalf("unexpected entry")
		}
		return sentinel
	})
	if err := hook.SessionCompleted(context.Background(), sampleEntry()); !errors.Is(err, sentinel) {
		t.Fatalf("expected adapter to return hook error, got %v", err)
	}
}
