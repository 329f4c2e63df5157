package main

import (
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/harness/core/queue"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
	"github.com/davidahmann/harness/core/tracker"
)

func TestRenderStatus(t *testing.T) {
	resumeAfter := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := &schemasession.Session{
		ID:       "sess-1",
		TaskID:   "T-render",
		TaskType: "bugfix",
		Steps: []schemasession.Step{
			{ID: "step-001", Description: "reproduce", Status: schemasession.StatusCompleted},
			{ID: "step-002", Description: "fix parser", Status: schemasession.StatusFailed, Error: &schemasession.StepError{Message: "tests still red"}},
			{ID: "step-003", Description: "wait for CI", Status: schemasession.StatusSuspended},
		},
		Execution: schemasession.Execution{Iteration: 3, TotalRetries: 1},
		Suspension: &schemasession.Suspension{
			Type:   schemasession.SuspensionScheduled,
			Reason: "nightly window",
			ResumeCondition: schemasession.ResumeCondition{
				Type:        schemasession.ConditionTime,
				ResumeAfter: &resumeAfter,
			},
		},
	}
	report := tracker.StatusReport{
		Session:    current,
		Counts:     session.Counts(current),
		Completion: session.CheckCompletion(current, resumeAfter),
		Next:       &tracker.StepRef{Index: 1, Step: current.Steps[1]},
		Suspended:  true,
	}
	summary := &queue.Summary{Tasks: []string{"T-render", "T-next"}, CompletedTasks: []string{}, CurrentTask: "T-render"}

	rendered := renderStatus(report, summary)
	for _, want := range []string{
		"T-render (bugfix)",
		"step-002",
		"tests still red",
		"completed 1/3, skipped 0, failed 1, iteration 3, retries 1",
		"suspended (scheduled, time): nightly window until 2026-03-01T12:00:00Z",
		"queue: 0/2 done, current T-render",
		"next: step-002",
	} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("rendered status missing %q:\n%s", want, rendered)
		}
	}
}
