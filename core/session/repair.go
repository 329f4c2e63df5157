package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

// Defaults fills execution ceilings when a session has none on record.
type Defaults struct {
	MaxIterations      int
	MaxRetries         int
	MaxDurationSeconds int64
}

// decodeSession decodes payload one substructure at a time so a malformed
// part is defaulted instead of failing the whole read. It returns the notes
// describing every repair made.
func decodeSession(payload []byte, defaults Defaults, now time.Time) (*schemasession.Session, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		if err == nil {
			err = fmt.Errorf("document is null")
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}

	repairs := []string{}
	note := func(format string, args ...any) {
		repairs = append(repairs, fmt.Sprintf(format, args...))
	}
	s := &schemasession.Session{}

	decodeField(raw, "schema_id", &s.SchemaID, note)
	decodeField(raw, "schema_version", &s.SchemaVersion, note)
	decodeField(raw, "id", &s.ID, note)
	decodeField(raw, "task_id", &s.TaskID, note)
	decodeField(raw, "task_type", &s.TaskType, note)
	decodeField(raw, "status", &s.Status, note)
	decodeField(raw, "created_at", &s.CreatedAt, note)
	decodeField(raw, "updated_at", &s.UpdatedAt, note)
	decodeField(raw, "metadata", &s.Metadata, note)

	if s.SchemaID != schemasession.SchemaID {
		if s.SchemaID != "" {
			note("schema_id %q replaced", s.SchemaID)
		}
		s.SchemaID = schemasession.SchemaID
	}
	if s.SchemaVersion == "" {
		s.SchemaVersion = schemasession.SchemaVersion
	}
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.NewString()
		note("assigned session id")
	}
	if strings.TrimSpace(s.TaskID) == "" {
		s.TaskID = "unknown"
		note("missing task_id")
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		note("missing created_at")
	}

	s.Steps = decodeSteps(raw["steps"], now, note)

	if !decodeField(raw, "execution", &s.Execution, note) {
		s.Execution = schemasession.Execution{
			CurrentStepIndex:   -1,
			MaxIterations:      defaults.MaxIterations,
			MaxRetries:         defaults.MaxRetries,
			MaxDurationSeconds: defaults.MaxDurationSeconds,
		}
		note("execution defaulted")
	}
	if s.Execution.CurrentStepIndex < -1 || s.Execution.CurrentStepIndex >= len(s.Steps) {
		note("current_step_index %d out of range", s.Execution.CurrentStepIndex)
		s.Execution.CurrentStepIndex = -1
	}
	if s.Execution.Iteration < 0 || s.Execution.TotalRetries < 0 {
		s.Execution.Iteration = max(s.Execution.Iteration, 0)
		s.Execution.TotalRetries = max(s.Execution.TotalRetries, 0)
		note("negative execution counters")
	}

	if !decodeField(raw, "metrics", &s.Metrics, note) {
		RecomputeMetrics(s)
		note("metrics recomputed")
	}

	if message, ok := raw["suspension"]; ok && string(message) != "null" {
		var suspension schemasession.Suspension
		if err := json.Unmarshal(message, &suspension); err != nil {
			note("malformed suspension dropped: %v", err)
		} else {
			s.Suspension = &suspension
		}
	}
	decodeField(raw, "suspension_history", &s.SuspensionHistory, note)

	if message, ok := raw["task_queue"]; ok && string(message) != "null" {
		var queue schemasession.TaskQueue
		if err := json.Unmarshal(message, &queue); err != nil {
			note("malformed task_queue dropped: %v", err)
		} else {
			s.TaskQueue = repairQueue(&queue, note)
		}
	}

	repairStepConsistency(s, note)
	return s, repairs, nil
}

// decodeField reports whether key was present and decoded.
func decodeField[T any](raw map[string]json.RawMessage, key string, target *T, note func(string, ...any)) bool {
	message, ok := raw[key]
	if !ok || string(message) == "null" {
		return false
	}
	var value T
	if err := json.Unmarshal(message, &value); err != nil {
		note("malformed %s ignored: %v", key, err)
		return false
	}
	*target = value
	return true
}

func decodeSteps(message json.RawMessage, now time.Time, note func(string, ...any)) []schemasession.Step {
	if len(message) == 0 || string(message) == "null" {
		note("steps defaulted")
		return []schemasession.Step{}
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(message, &entries); err != nil {
		note("malformed steps defaulted: %v", err)
		return []schemasession.Step{}
	}

	steps := make([]schemasession.Step, 0, len(entries))
	for position, entry := range entries {
		var step schemasession.Step
		if err := json.Unmarshal(entry, &step); err != nil {
			note("dropped malformed step at position %d: %v", position, err)
			continue
		}
		steps = append(steps, step)
	}

	used := map[string]bool{}
	for index := range steps {
		used[steps[index].ID] = true
	}
	for index := range steps {
		step := &steps[index]
		if !schemasession.IsKnownStatus(step.Status) {
			note("step %s status %q reset to pending", step.ID, step.Status)
			step.Status = schemasession.StatusPending
		}
		if !schemasession.IsKnownStepType(step.Type) {
			step.Type = schemasession.StepTypeCustom
		}
		if step.Attempts < 0 {
			step.Attempts = 0
		}
		if step.Order <= 0 {
			step.Order = index + 1
		}
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}
		if canonical, ok := TranslateLegacyID(step.ID); ok && canonical == step.ID {
			continue
		}
		legacy := step.ID
		replacement, translated := TranslateLegacyID(legacy)
		if !translated || (used[replacement] && replacement != legacy) {
			replacement = freeID(used, index+1)
		}
		delete(used, legacy)
		used[replacement] = true
		step.ID = replacement
		if legacy != "" {
			if step.Metadata == nil {
				step.Metadata = map[string]any{}
			}
			if _, exists := step.Metadata[metadataSourceID]; !exists {
				step.Metadata[metadataSourceID] = legacy
			}
			note("step id %q translated to %s", legacy, replacement)
		} else {
			note("assigned id %s", replacement)
		}
	}
	return steps
}

func freeID(used map[string]bool, start int) string {
	for position := start; ; position++ {
		if candidate := CanonicalID(position); !used[candidate] {
			return candidate
		}
	}
}

func repairQueue(queue *schemasession.TaskQueue, note func(string, ...any)) *schemasession.TaskQueue {
	if queue.Tasks == nil {
		queue.Tasks = []string{}
	}
	if queue.CompletedTasks == nil {
		queue.CompletedTasks = []string{}
	}
	if queue.CurrentIndex < 0 || queue.CurrentIndex > len(queue.Tasks) {
		note("task_queue current_index %d clamped", queue.CurrentIndex)
		queue.CurrentIndex = min(max(queue.CurrentIndex, 0), len(queue.Tasks))
	}
	return queue
}

// repairStepConsistency restores the single-active-step invariant and drops
// suspended markers that no suspension record backs.
func repairStepConsistency(s *schemasession.Session, note func(string, ...any)) {
	active := -1
	if current := s.Execution.CurrentStepIndex; current >= 0 && s.Steps[current].Status == schemasession.StatusInProgress {
		active = current
	}
	for index := range s.Steps {
		step := &s.Steps[index]
		switch step.Status {
		case schemasession.StatusInProgress:
			if active == -1 {
				active = index
				continue
			}
			if index != active {
				note("extra in_progress step %s reset to pending", step.ID)
				step.Status = schemasession.StatusPending
			}
		case schemasession.StatusSuspended:
			if s.Suspension == nil {
				note("suspended step %s without suspension reset to pending", step.ID)
				step.Status = schemasession.StatusPending
			}
		}
	}
}
