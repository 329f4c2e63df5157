package regress

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/davidahmann/harness/core/oracle"
	"github.com/davidahmann/harness/core/projectconfig"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

type fakeVerifier map[string]oracle.Verdict

func (f fakeVerifier) Verify(_ context.Context, description string) oracle.Result {
	verdict, ok := f[description]
	if !ok {
		verdict = oracle.VerdictIndeterminate
	}
	return oracle.Result{Verdict: verdict, Detector: "fake", Message: description + " " + string(verdict)}
}

func completedSession(descriptions ...string) *schemasession.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &schemasession.Session{Execution: schemasession.Execution{CurrentStepIndex: -1}}
	for index, description := range descriptions {
		s.Steps = append(s.Steps, schemasession.Step{
			ID:          "step-00" + string(rune('1'+index)),
			Description: description,
			Status:      schemasession.StatusCompleted,
			CompletedAt: &now,
		})
		s.Metrics.StepsCompleted++
	}
	return s
}

func TestRecheckBlockDowngradesFailures(t *testing.T) {
	s := completedSession("A", "B", "C")
	s.Steps[2].Status = schemasession.StatusPending
	s.Metrics.StepsCompleted--
	verifier := fakeVerifier{"A": oracle.VerdictFail, "B": oracle.VerdictPass}

	rechecker := New(verifier, Options{Policy: projectconfig.RegressionBlock})
	report := rechecker.Recheck(context.Background(), s, 1)
	if len(report.Checked) != 1 || report.Checked[0] != "step-001" {
		t.Fatalf("trigger and non-completed steps must not be rechecked: %#v", report)
	}
	if !report.HasRegressions() || report.Regressed[0].StepID != "step-001" {
		t.Fatalf("expected step-001 regression: %#v", report)
	}
	if s.Steps[0].Status != schemasession.StatusCompleted {
		t.Fatal("Recheck must not mutate the session")
	}

	downgraded := rechecker.Apply(s, &report, time.Now().UTC())
	if downgraded != 1 || !report.Applied {
		t.Fatalf("expected one downgrade, got %d", downgraded)
	}
	step := s.Steps[0]
	if step.Status != schemasession.StatusFailed || step.Error == nil || step.Error.Code != "regression" {
		t.Fatalf("unexpected downgraded step: %#v", step)
	}
	if s.Metrics.Regressions != 1 || s.Metrics.StepsCompleted != 1 || s.Metrics.StepsFailed != 1 {
		t.Fatalf("unexpected metrics: %#v", s.Metrics)
	}
}

func TestRecheckWarnOnlyLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := completedSession("A", "B")
	rechecker := New(fakeVerifier{"A": oracle.VerdictFail}, Options{Policy: projectconfig.RegressionWarn, Logger: zap.New(core)})

	report := rechecker.Recheck(context.Background(), s, 1)
	if rechecker.Apply(s, &report, time.Now().UTC()) != 0 {
		t.Fatal("warn policy must not downgrade")
	}
	if s.Steps[0].Status != schemasession.StatusCompleted || s.Metrics.Regressions != 0 {
		t.Fatalf("warn policy changed the session: %#v", s.Steps[0])
	}
	if logs.FilterMessage("regression detected").Len() != 1 {
		t.Fatalf("expected a regression warning, got %v", logs.All())
	}
}

func TestRecheckSkipsIndeterminateAndOff(t *testing.T) {
	s := completedSession("A", "B")
	report := New(fakeVerifier{}, Options{}).Recheck(context.Background(), s, 1)
	if report.Policy != projectconfig.RegressionBlock || len(report.Skipped) != 1 || report.HasRegressions() {
		t.Fatalf("unexpected report: %#v", report)
	}

	report = New(fakeVerifier{"A": oracle.VerdictFail}, Options{Policy: projectconfig.RegressionOff}).Recheck(context.Background(), s, 1)
	if len(report.Checked) != 0 || report.HasRegressions() {
		t.Fatalf("off policy must not recheck: %#v", report)
	}
}

func TestApplyIgnoresStepsThatChanged(t *testing.T) {
	s := completedSession("A", "B")
	rechecker := New(fakeVerifier{"A": oracle.VerdictFail}, Options{})
	report := rechecker.Recheck(context.Background(), s, 1)

	s.Steps[0].Status = schemasession.StatusSkipped
	if rechecker.Apply(s, &report, time.Now().UTC()) != 0 {
		t.Fatal("a step that left completed must not be downgraded")
	}
}

func TestWriteJUnit(t *testing.T) {
	s := completedSession("A", "B", "C")
	report := New(fakeVerifier{"A": oracle.VerdictFail, "B": oracle.VerdictPass}, Options{}).Recheck(context.Background(), s, -1)

	path := filepath.Join(t.TempDir(), "reports", "regress.xml")
	if err := WriteJUnit(path, report); err != nil {
		t.Fatalf("write junit: %v", err)
	}
	// #nosec G304 -- test controls path in temp dir.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read junit: %v", err)
	}
	var decoded junitTestSuites
	if err := xml.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("parse junit: %v", err)
	}
	if decoded.Tests != 3 || decoded.Failures != 1 || decoded.Skipped != 1 {
		t.Fatalf("unexpected junit totals: %#v", decoded)
	}
	if decoded.Suites[0].TestCases[0].Failure == nil {
		t.Fatalf("expected step-001 failure: %#v", decoded.Suites[0].TestCases[0])
	}
}
