package session

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	coreerrors "github.com/davidahmann/harness/core/errors"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newLedgerSession(t fatalHelper, descriptions ...string) *schemasession.Session {
	t.Helper()
	inputs := make([]StepInput, 0, len(descriptions))
	for _, description := range descriptions {
		inputs = append(inputs, RawStep(description))
	}
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	steps, err := NormalizeSteps(inputs, 0, created)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return &schemasession.Session{
		TaskID:    "T1",
		CreatedAt: created,
		Steps:     steps,
		Execution: schemasession.Execution{CurrentStepIndex: -1, MaxIterations: 100, MaxRetries: 20, MaxDurationSeconds: 3600},
	}
}

func TestMarkStartedCountsAttemptsAndRetries(t *testing.T) {
	s := newLedgerSession(t, "a", "b")
	now := s.CreatedAt.Add(time.Minute)
	if err := MarkStarted(s, 1, now); err != nil {
		t.Fatalf("start: %v", err)
	}
	step := s.Steps[1]
	if step.Status != schemasession.StatusInProgress || step.Attempts != 1 || step.StartedAt == nil || !step.LastAttemptAt.Equal(now) {
		t.Fatalf("unexpected started step %#v", step)
	}
	if s.Execution.CurrentStepIndex != 1 || s.Execution.Iteration != 1 || s.Execution.TotalRetries != 0 {
		t.Fatalf("unexpected execution %#v", s.Execution)
	}
	if err := MarkStarted(s, 0, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected second in_progress step to be rejected, got %v", err)
	}
	if err := MarkFailed(s, 1, "", "boom", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if s.Steps[1].Error == nil || s.Steps[1].Error.Code != "step_failed" || s.Metrics.StepsFailed != 1 {
		t.Fatalf("expected recorded failure, got %#v", s.Steps[1])
	}

	index, found := NextActionableStep(s)
	if !found || index != 0 {
		t.Fatalf("expected first pending step, got %d %t", index, found)
	}
	later := now.Add(time.Minute)
	if err := MarkStarted(s, 1, later); err != nil {
		t.Fatalf("restart failed step: %v", err)
	}
	if s.Steps[1].Attempts != 2 || s.Execution.TotalRetries != 1 || s.Execution.Iteration != 2 {
		t.Fatalf("expected retry accounting, got step=%#v exec=%#v", s.Steps[1], s.Execution)
	}
	if !s.Steps[1].StartedAt.Equal(now) || !s.Steps[1].LastAttemptAt.Equal(later) {
		t.Fatalf("expected first start kept and last attempt updated")
	}
}

func TestTerminalTransitions(t *testing.T) {
	s := newLedgerSession(t, "a", "b", "c")
	now := s.CreatedAt
	if err := MarkCompleted(s, 0, nil, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completing a pending step to fail, got %v", err)
	}
	if err := MarkStarted(s, 0, now); err != nil {
		t.Fatalf("start: %v", err)
	}
	proof := &schemasession.VerificationProof{Verdict: "pass", VerifiedAt: now}
	if err := MarkCompleted(s, 0, proof, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := MarkStarted(s, 0, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completed step restart to fail, got %v", err)
	}
	if err := MarkSkipped(s, 1, "not needed", now); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if s.Steps[1].Metadata["skip_reason"] != "not needed" {
		t.Fatalf("expected skip reason metadata")
	}
	if err := MarkSkipped(s, 0, "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected skipping a completed step to fail, got %v", err)
	}
	if err := MarkRegressed(s, 0, "file vanished", now); err != nil {
		t.Fatalf("regress: %v", err)
	}
	if s.Steps[0].Status != schemasession.StatusFailed || s.Steps[0].Error.Code != ErrorCodeRegression {
		t.Fatalf("unexpected regressed step %#v", s.Steps[0])
	}
	if s.Metrics.Regressions != 1 || s.Metrics.StepsCompleted != 0 || s.Metrics.StepsSkipped != 1 {
		t.Fatalf("unexpected metrics %#v", s.Metrics)
	}
	if _, err := stepAt(s, 9); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected out of range error, got %v", err)
	}
}

func TestSuspendedSessionRejectsStart(t *testing.T) {
	s := newLedgerSession(t, "a", "b")
	now := s.CreatedAt
	if err := MarkStarted(s, 0, now); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := MarkSuspended(s, 0); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	s.Suspension = &schemasession.Suspension{StepID: "step-001"}
	err := MarkStarted(s, 1, now)
	if !errors.Is(err, ErrSuspended) || coreerrors.CategoryOf(err) != coreerrors.CategorySuspended {
		t.Fatalf("expected suspended error, got %v", err)
	}
	if err := MarkResumed(s, 0); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.Steps[0].Status != schemasession.StatusPending {
		t.Fatalf("expected step back to pending")
	}
	if err := MarkResumed(s, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected resume of pending step to fail, got %v", err)
	}
}

func TestCheckCompletionPrecedence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		mutate   func(*schemasession.Session)
		now      time.Time
		complete bool
		forced   bool
		reason   string
	}{
		{name: "in_progress", mutate: func(*schemasession.Session) {}, now: base, reason: ReasonInProgress},
		{name: "all_complete", mutate: func(s *schemasession.Session) {
			s.Steps[0].Status = schemasession.StatusCompleted
			s.Steps[1].Status = schemasession.StatusSkipped
		}, now: base, complete: true, reason: ReasonAllComplete},
		{name: "suspended_beats_ceilings", mutate: func(s *schemasession.Session) {
			s.Steps[0].Status = schemasession.StatusSuspended
			s.Execution.TotalRetries = 99
			s.Execution.Iteration = 999
		}, now: base.Add(48 * time.Hour), reason: ReasonSuspended},
		{name: "retries", mutate: func(s *schemasession.Session) {
			s.Execution.TotalRetries = 20
			s.Execution.Iteration = 100
		}, now: base, complete: true, forced: true, reason: ReasonMaxRetries},
		{name: "iterations", mutate: func(s *schemasession.Session) {
			s.Execution.Iteration = 100
		}, now: base, complete: true, forced: true, reason: ReasonMaxIterations},
		{name: "duration", mutate: func(*schemasession.Session) {}, now: base.Add(time.Hour), complete: true, forced: true, reason: ReasonMaxDuration},
		{name: "zero_ceilings_disable", mutate: func(s *schemasession.Session) {
			s.Execution = schemasession.Execution{CurrentStepIndex: -1, TotalRetries: 50, Iteration: 500}
		}, now: base.Add(100 * time.Hour), reason: ReasonInProgress},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newLedgerSession(t, "a", "b")
			test.mutate(s)
			result := CheckCompletion(s, test.now)
			if result.Complete != test.complete || result.Forced != test.forced || result.Reason != test.reason {
				t.Fatalf("unexpected completion %#v", result)
			}
			if result.Counts.Total != 2 {
				t.Fatalf("unexpected counts %#v", result.Counts)
			}
		})
	}
}

func TestCheckCompletionNeverTrueWhileSuspended(t *testing.T) {
	statuses := []schemasession.StepStatus{
		schemasession.StatusPending, schemasession.StatusInProgress, schemasession.StatusCompleted,
		schemasession.StatusFailed, schemasession.StatusSkipped, schemasession.StatusSuspended,
	}
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 12).Draw(t, "steps")
		s := &schemasession.Session{CreatedAt: time.Unix(0, 0).UTC()}
		for index := range count {
			status := rapid.SampledFrom(statuses).Draw(t, "status")
			s.Steps = append(s.Steps, schemasession.Step{ID: CanonicalID(index + 1), Status: status})
		}
		suspendAt := rapid.IntRange(0, count-1).Draw(t, "suspended")
		s.Steps[suspendAt].Status = schemasession.StatusSuspended
		s.Execution = schemasession.Execution{
			Iteration:          rapid.IntRange(0, 500).Draw(t, "iteration"),
			TotalRetries:       rapid.IntRange(0, 500).Draw(t, "retries"),
			MaxIterations:      rapid.IntRange(0, 100).Draw(t, "max_iterations"),
			MaxRetries:         rapid.IntRange(0, 100).Draw(t, "max_retries"),
			MaxDurationSeconds: int64(rapid.IntRange(0, 1000).Draw(t, "max_duration")),
		}
		now := s.CreatedAt.Add(time.Duration(rapid.IntRange(0, 5000).Draw(t, "age")) * time.Second)
		result := CheckCompletion(s, now)
		if result.Complete || result.Reason != ReasonSuspended {
			t.Fatalf("suspended session reported %#v", result)
		}
	})
}

// Random ledger operations must follow the state machine and never skip a
// step on their own.
func TestLedgerOperationsRespectStateMachine(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := newLedgerSession(t, "a", "b", "c", "d")
		now := s.CreatedAt
		operations := rapid.SliceOfN(rapid.IntRange(0, 3), 1, 60).Draw(t, "operations")
		for _, operation := range operations {
			before := make([]schemasession.StepStatus, len(s.Steps))
			for index := range s.Steps {
				before[index] = s.Steps[index].Status
			}
			index := rapid.IntRange(0, len(s.Steps)-1).Draw(t, "index")
			switch operation {
			case 0:
				_ = MarkStarted(s, index, now)
			case 1:
				_ = MarkCompleted(s, index, nil, now)
			case 2:
				_ = MarkFailed(s, index, "x", "y", now)
			case 3:
				if active, found := ActiveStep(s); found {
					_ = MarkFailed(s, active, "x", "y", now)
				}
			}
			inProgress := 0
			for position, step := range s.Steps {
				if step.Status == schemasession.StatusSkipped {
					t.Fatalf("step %s reached skipped without an operator", step.ID)
				}
				if step.Status == schemasession.StatusInProgress {
					inProgress++
				}
				if !allowedTransition(before[position], step.Status) {
					t.Fatalf("illegal transition %s -> %s", before[position], step.Status)
				}
			}
			if inProgress > 1 {
				t.Fatalf("more than one step in progress")
			}
			if active, found := ActiveStep(s); found && s.Execution.CurrentStepIndex != active {
				t.Fatalf("current_step_index %d does not point at active step %d", s.Execution.CurrentStepIndex, active)
			}
		}
	})
}

func allowedTransition(from, to schemasession.StepStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case schemasession.StatusPending, schemasession.StatusFailed:
		return to == schemasession.StatusInProgress
	case schemasession.StatusInProgress:
		return to == schemasession.StatusCompleted || to == schemasession.StatusFailed || to == schemasession.StatusSuspended
	default:
		return false
	}
}
