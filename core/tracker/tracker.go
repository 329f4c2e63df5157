// Package tracker drives steps through the ledger on top of the session
// store: choosing the next step, starting it, and recording its outcome with
// optional oracle verification and a regression re-check.
package tracker

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	coreerrors "github.com/davidahmann/harness/core/errors"
	"github.com/davidahmann/harness/core/logging"
	"github.com/davidahmann/harness/core/oracle"
	"github.com/davidahmann/harness/core/projectconfig"
	"github.com/davidahmann/harness/core/regress"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
)

// ProofManual marks a completion asserted by the operator rather than
// proven by a detector.
const ProofManual = "manual"

const errorCodeVerification = "verification_failed"

var ErrNoActiveStep = errors.New("no step is in progress")

type Options struct {
	// Verifier runs step checks for Complete with Verify and for the
	// regression re-check. Nil disables both.
	Verifier  regress.Verifier
	Rechecker *regress.Rechecker
	Logger    *zap.Logger
}

type Tracker struct {
	store     *session.Store
	verifier  regress.Verifier
	rechecker *regress.Rechecker
	logger    *zap.Logger
}

func New(store *session.Store, opts Options) *Tracker {
	logger := logging.OrNop(opts.Logger)
	rechecker := opts.Rechecker
	if rechecker == nil && opts.Verifier != nil {
		rechecker = regress.New(opts.Verifier, regress.Options{
			Policy: store.Workspace().Config.RegressionPolicy(),
			Logger: logger,
		})
	}
	return &Tracker{
		store:     store,
		verifier:  opts.Verifier,
		rechecker: rechecker,
		logger:    logger,
	}
}

type StepRef struct {
	Index int                `json:"index"`
	Step  schemasession.Step `json:"step"`
}

type NextResult struct {
	Step       *StepRef           `json:"step,omitempty"`
	InProgress bool               `json:"in_progress"`
	Completion session.Completion `json:"completion"`
}

type StartResult struct {
	StepRef
	Started bool `json:"started"`
}

type CompleteOptions struct {
	Proof       string
	Verify      bool
	TokensSaved int64
	CostSaved   float64
}

type CompleteResult struct {
	StepRef
	Completed    bool               `json:"completed"`
	Verification *oracle.Result     `json:"verification,omitempty"`
	Regression   *regress.Report    `json:"regression,omitempty"`
	Completion   session.Completion `json:"completion"`
}

type StatusReport struct {
	Session    *schemasession.Session `json:"session"`
	Counts     session.StatusCounts   `json:"counts"`
	Completion session.Completion     `json:"completion"`
	Active     *StepRef               `json:"active,omitempty"`
	Next       *StepRef               `json:"next,omitempty"`
	Suspended  bool                   `json:"suspended"`
}

// Status is a read-only snapshot of the session.
func (t *Tracker) Status(ctx context.Context) (StatusReport, error) {
	current, err := t.store.Load(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	report := StatusReport{
		Session:    current,
		Counts:     session.Counts(current),
		Completion: session.CheckCompletion(current, t.store.Now()),
		Suspended:  session.IsSuspended(current),
	}
	if index, found := session.ActiveStep(current); found {
		report.Active = refAt(current, index)
	}
	if index, found := session.NextActionableStep(current); found {
		report.Next = refAt(current, index)
	}
	return report, nil
}

// Next reports the step an agent should work on: the in_progress one if any,
// otherwise the first pending or failed step. It never mutates state.
func (t *Tracker) Next(ctx context.Context) (NextResult, error) {
	current, err := t.store.Load(ctx)
	if err != nil {
		return NextResult{}, err
	}
	result := NextResult{Completion: session.CheckCompletion(current, t.store.Now())}
	if session.IsSuspended(current) {
		return result, nil
	}
	if index, found := session.ActiveStep(current); found {
		result.Step = refAt(current, index)
		result.InProgress = true
		return result, nil
	}
	if index, found := session.NextActionableStep(current); found {
		result.Step = refAt(current, index)
	}
	return result, nil
}

// Start moves ref (or the next actionable step when ref is empty) to
// in_progress. Starting the step that is already in progress is a no-op.
func (t *Tracker) Start(ctx context.Context, ref string) (StartResult, error) {
	var result StartResult
	_, err := t.store.Update(ctx, func(current *schemasession.Session) error {
		if err := session.EnsureNotSuspended(current); err != nil {
			return err
		}
		index, err := t.resolveForStart(current, ref)
		if err != nil {
			return err
		}
		if current.Steps[index].Status == schemasession.StatusInProgress {
			result = StartResult{StepRef: *refAt(current, index)}
			return nil
		}
		if err := session.MarkStarted(current, index, t.store.Now()); err != nil {
			return err
		}
		result = StartResult{StepRef: *refAt(current, index), Started: true}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	if result.Started {
		t.logger.Info("step started", zap.String("step_id", result.Step.ID), zap.Int("attempts", result.Step.Attempts))
	}
	return result, nil
}

// Complete records the outcome of ref (or the in_progress step). With Verify
// the oracle decides: fail marks the step failed instead, indeterminate
// completes it with a manual proof. Every completion triggers the regression
// re-check of the other completed steps.
//
// Oracle and re-check commands can run for minutes, so they run on a snapshot
// outside the session lock and their results are applied in short updates.
func (t *Tracker) Complete(ctx context.Context, ref string, opts CompleteOptions) (CompleteResult, error) {
	snapshot, err := t.store.Load(ctx)
	if err != nil {
		return CompleteResult{}, err
	}
	if err := session.EnsureNotSuspended(snapshot); err != nil {
		return CompleteResult{}, err
	}
	index, err := resolveForFinish(snapshot, ref)
	if err != nil {
		return CompleteResult{}, err
	}
	stepID := snapshot.Steps[index].ID

	var verification *oracle.Result
	if opts.Verify && t.verifier != nil {
		outcome := t.verifier.Verify(ctx, snapshot.Steps[index].Description)
		verification = &outcome
	}

	var result CompleteResult
	updated, err := t.store.Update(ctx, func(current *schemasession.Session) error {
		if err := session.EnsureNotSuspended(current); err != nil {
			return err
		}
		index, err := session.ResolveStep(current, stepID)
		if err != nil {
			return err
		}
		now := t.store.Now()
		if err := ensureStarted(current, index, now); err != nil {
			return err
		}
		if verification != nil && verification.Failed() {
			if err := session.MarkFailed(current, index, errorCodeVerification, verification.Message, now); err != nil {
				return err
			}
			result = CompleteResult{StepRef: *refAt(current, index)}
			return nil
		}
		if err := session.MarkCompleted(current, index, buildProof(verification, opts.Proof, now), now); err != nil {
			return err
		}
		current.Metrics.TokensSaved += opts.TokensSaved
		current.Metrics.CostSaved += opts.CostSaved
		result = CompleteResult{StepRef: *refAt(current, index), Completed: true}
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}
	result.Verification = verification

	if result.Completed {
		t.logger.Info("step completed", zap.String("step_id", stepID))
		if updated, err = t.recheck(ctx, updated, result.Index, &result); err != nil {
			return CompleteResult{}, err
		}
	} else {
		t.logger.Warn("step failed verification", zap.String("step_id", stepID), zap.String("message", verification.Message))
	}
	result.Completion = session.CheckCompletion(updated, t.store.Now())
	return result, nil
}

func (t *Tracker) recheck(ctx context.Context, snapshot *schemasession.Session, trigger int, result *CompleteResult) (*schemasession.Session, error) {
	if t.rechecker == nil {
		return snapshot, nil
	}
	report := t.rechecker.Recheck(ctx, snapshot, trigger)
	result.Regression = &report
	if !report.HasRegressions() {
		return snapshot, nil
	}
	if t.rechecker.Policy() != projectconfig.RegressionBlock {
		t.rechecker.Apply(snapshot, &report, t.store.Now())
		return snapshot, nil
	}
	return t.store.Update(ctx, func(current *schemasession.Session) error {
		t.rechecker.Apply(current, &report, t.store.Now())
		return nil
	})
}

// Fail records a failed attempt of ref (or the in_progress step).
func (t *Tracker) Fail(ctx context.Context, ref, message string) (StepRef, error) {
	var result StepRef
	_, err := t.store.Update(ctx, func(current *schemasession.Session) error {
		if err := session.EnsureNotSuspended(current); err != nil {
			return err
		}
		index, err := resolveForFinish(current, ref)
		if err != nil {
			return err
		}
		now := t.store.Now()
		if err := ensureStarted(current, index, now); err != nil {
			return err
		}
		if err := session.MarkFailed(current, index, "", message, now); err != nil {
			return err
		}
		result = *refAt(current, index)
		return nil
	})
	if err != nil {
		return StepRef{}, err
	}
	t.logger.Info("step failed", zap.String("step_id", result.Step.ID), zap.Int("attempts", result.Step.Attempts))
	return result, nil
}

// Skip is the only way a step becomes skipped.
func (t *Tracker) Skip(ctx context.Context, ref, reason string) (StepRef, error) {
	var result StepRef
	_, err := t.store.Update(ctx, func(current *schemasession.Session) error {
		if err := session.EnsureNotSuspended(current); err != nil {
			return err
		}
		index, err := resolveForFinish(current, ref)
		if err != nil {
			return err
		}
		if err := session.MarkSkipped(current, index, reason, t.store.Now()); err != nil {
			return err
		}
		result = *refAt(current, index)
		return nil
	})
	if err != nil {
		return StepRef{}, err
	}
	t.logger.Info("step skipped", zap.String("step_id", result.Step.ID), zap.String("reason", reason))
	return result, nil
}

// Add appends steps to the active session.
func (t *Tracker) Add(ctx context.Context, inputs []session.StepInput) ([]schemasession.Step, error) {
	var added []schemasession.Step
	_, err := t.store.Update(ctx, func(current *schemasession.Session) error {
		var err error
		added, err = session.AppendSteps(current, inputs, t.store.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (t *Tracker) CheckCompletion(ctx context.Context) (session.Completion, error) {
	current, err := t.store.Load(ctx)
	if err != nil {
		return session.Completion{}, err
	}
	return session.CheckCompletion(current, t.store.Now()), nil
}

func (t *Tracker) resolveForStart(current *schemasession.Session, ref string) (int, error) {
	if strings.TrimSpace(ref) != "" {
		return session.ResolveStep(current, ref)
	}
	if index, found := session.ActiveStep(current); found {
		return index, nil
	}
	if index, found := session.NextActionableStep(current); found {
		return index, nil
	}
	return -1, coreerrors.Wrap(
		errors.New("no pending or failed step left"),
		coreerrors.CategoryInvalidTransition,
		"no_actionable_step",
		"run harness check or harness archive",
		false,
	)
}

func resolveForFinish(current *schemasession.Session, ref string) (int, error) {
	if strings.TrimSpace(ref) != "" {
		return session.ResolveStep(current, ref)
	}
	if index, found := session.ActiveStep(current); found {
		return index, nil
	}
	return -1, coreerrors.Wrap(ErrNoActiveStep, coreerrors.CategoryInvalidTransition, "no_active_step", "pass a step id or run harness start first", false)
}

// ensureStarted starts a pending or failed step so it can be finished.
func ensureStarted(current *schemasession.Session, index int, now time.Time) error {
	switch current.Steps[index].Status {
	case schemasession.StatusPending, schemasession.StatusFailed:
		return session.MarkStarted(current, index, now)
	default:
		return nil
	}
}

func buildProof(verification *oracle.Result, proof string, now time.Time) *schemasession.VerificationProof {
	if verification == nil {
		if strings.TrimSpace(proof) == "" {
			return nil
		}
		return &schemasession.VerificationProof{Verdict: ProofManual, Message: proof, VerifiedAt: now}
	}
	built := &schemasession.VerificationProof{
		Verdict:    string(verification.Verdict),
		Detector:   verification.Detector,
		Message:    verification.Message,
		VerifiedAt: now,
	}
	if verification.Verdict == oracle.VerdictIndeterminate {
		built.Verdict = ProofManual
		if strings.TrimSpace(proof) != "" {
			built.Message = proof
		}
	}
	return built
}

func refAt(current *schemasession.Session, index int) *StepRef {
	return &StepRef{Index: index, Step: current.Steps[index]}
}
