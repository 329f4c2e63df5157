// Package learn receives completed sessions. The default hook appends one
// summary record per session to a JSONL journal.
package learn

import (
	"context"
	"time"

	"github.com/davidahmann/harness/core/fsx"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

const RecordSchemaID = "harness.learning"

// Hook is invoked after a session is archived as completed. Implementations
// may fail; the archive never does because of them.
type Hook interface {
	SessionCompleted(ctx context.Context, entry schemasession.ArchiveEntry) error
}

type HookFunc func(ctx context.Context, entry schemasession.ArchiveEntry) error

func (f HookFunc) SessionCompleted(ctx context.Context, entry schemasession.ArchiveEntry) error {
	return f(ctx, entry)
}

type Record struct {
	SchemaID        string        `json:"schema_id"`
	TaskID          string        `json:"task_id"`
	TaskType        string        `json:"task_type"`
	SessionID       string        `json:"session_id"`
	ArchivedAt      time.Time     `json:"archived_at"`
	DurationSeconds int64         `json:"duration_seconds"`
	Iterations      int           `json:"iterations"`
	Retries         int           `json:"retries"`
	Regressions     int           `json:"regressions"`
	Steps           []StepOutcome `json:"steps"`
}

type StepOutcome struct {
	ID          string                   `json:"id"`
	Description string                   `json:"description"`
	Status      schemasession.StepStatus `json:"status"`
	Attempts    int                      `json:"attempts"`
	Verdict     string                   `json:"verdict,omitempty"`
}

// JournalHook appends a Record to Path.
type JournalHook struct {
	Path string
}

func (h JournalHook) SessionCompleted(ctx context.Context, entry schemasession.ArchiveEntry) error {
	return fsx.AppendJSONLine(ctx, h.Path, Summarize(entry))
}

func Summarize(entry schemasession.ArchiveEntry) Record {
	record := Record{
		SchemaID:        RecordSchemaID,
		TaskID:          entry.Session.TaskID,
		TaskType:        entry.Session.TaskType,
		SessionID:       entry.Session.ID,
		ArchivedAt:      entry.ArchivedAt,
		DurationSeconds: entry.DurationSeconds,
		Iterations:      entry.Session.Execution.Iteration,
		Retries:         entry.Session.Execution.TotalRetries,
		Regressions:     entry.Session.Metrics.Regressions,
		Steps:           make([]StepOutcome, 0, len(entry.Session.Steps)),
	}
	for _, step := range entry.Session.Steps {
		outcome := StepOutcome{
			ID:          step.ID,
			Description: step.Description,
			Status:      step.Status,
			Attempts:    step.Attempts,
		}
		if step.VerificationProof != nil {
			outcome.Verdict = step.VerificationProof.Verdict
		}
		record.Steps = append(record.Steps, outcome)
	}
	return record
}
