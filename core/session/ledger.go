package session

import (
	"time"

	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

const (
	ReasonSuspended     = "suspended"
	ReasonAllComplete   = "all-complete"
	ReasonMaxRetries    = "max-retries"
	ReasonMaxIterations = "max-iterations"
	ReasonMaxDuration   = "max-duration"
	ReasonInProgress    = "in-progress"
)

// ErrorCodeRegression marks a step downgraded by the regression re-check.
const ErrorCodeRegression = "regression"

type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Suspended  int `json:"suspended"`
}

type Completion struct {
	Complete bool         `json:"complete"`
	Forced   bool         `json:"forced"`
	Reason   string       `json:"reason"`
	Counts   StatusCounts `json:"counts"`
}

func Counts(s *schemasession.Session) StatusCounts {
	counts := StatusCounts{Total: len(s.Steps)}
	for _, step := range s.Steps {
		switch step.Status {
		case schemasession.StatusPending:
			counts.Pending++
		case schemasession.StatusInProgress:
			counts.InProgress++
		case schemasession.StatusCompleted:
			counts.Completed++
		case schemasession.StatusFailed:
			counts.Failed++
		case schemasession.StatusSkipped:
			counts.Skipped++
		case schemasession.StatusSuspended:
			counts.Suspended++
		}
	}
	return counts
}

// NextActionableStep returns the first pending or failed step.
func NextActionableStep(s *schemasession.Session) (int, bool) {
	for index, step := range s.Steps {
		if step.Status == schemasession.StatusPending || step.Status == schemasession.StatusFailed {
			return index, true
		}
	}
	return -1, false
}

// ActiveStep returns the in_progress step, preferring current_step_index.
func ActiveStep(s *schemasession.Session) (int, bool) {
	current := s.Execution.CurrentStepIndex
	if current >= 0 && current < len(s.Steps) && s.Steps[current].Status == schemasession.StatusInProgress {
		return current, true
	}
	for index, step := range s.Steps {
		if step.Status == schemasession.StatusInProgress {
			return index, true
		}
	}
	return -1, false
}

// SuspendedStep returns the step parked by the active suspension.
func SuspendedStep(s *schemasession.Session) (int, bool) {
	for index, step := range s.Steps {
		if step.Status == schemasession.StatusSuspended {
			return index, true
		}
	}
	return -1, false
}

func IsSuspended(s *schemasession.Session) bool {
	if s.Suspension != nil {
		return true
	}
	_, found := SuspendedStep(s)
	return found
}

// EnsureNotSuspended returns a classified error while s is paused.
func EnsureNotSuspended(s *schemasession.Session) error {
	if IsSuspended(s) {
		return suspendedError(suspendedStepID(s))
	}
	return nil
}

func MarkStarted(s *schemasession.Session, index int, now time.Time) error {
	step, err := stepAt(s, index)
	if err != nil {
		return err
	}
	if IsSuspended(s) {
		return suspendedError(suspendedStepID(s))
	}
	if step.Status != schemasession.StatusPending && step.Status != schemasession.StatusFailed {
		return invalidTransition("%s is %s; only pending or failed steps can start", step.ID, step.Status)
	}
	if active, found := ActiveStep(s); found && active != index {
		return invalidTransition("%s is already in progress", s.Steps[active].ID)
	}

	if step.Attempts > 0 {
		s.Execution.TotalRetries++
	}
	step.Attempts++
	step.Status = schemasession.StatusInProgress
	if step.StartedAt == nil {
		step.StartedAt = timePointer(now)
	}
	step.LastAttemptAt = timePointer(now)
	s.Execution.CurrentStepIndex = index
	s.Execution.Iteration++
	s.Execution.LastStartedAt = timePointer(now)
	return nil
}

func MarkCompleted(s *schemasession.Session, index int, proof *schemasession.VerificationProof, now time.Time) error {
	step, err := stepAt(s, index)
	if err != nil {
		return err
	}
	if step.Status != schemasession.StatusInProgress {
		return invalidTransition("%s is %s; only in_progress steps can complete", step.ID, step.Status)
	}
	step.Status = schemasession.StatusCompleted
	step.CompletedAt = timePointer(now)
	step.VerificationProof = proof
	step.Error = nil
	s.Metrics.StepsCompleted++
	return nil
}

// MarkFailed records a failed attempt. The step stays actionable.
func MarkFailed(s *schemasession.Session, index int, code, message string, now time.Time) error {
	step, err := stepAt(s, index)
	if err != nil {
		return err
	}
	if step.Status != schemasession.StatusInProgress {
		return invalidTransition("%s is %s; only in_progress steps can fail", step.ID, step.Status)
	}
	if code == "" {
		code = "step_failed"
	}
	step.Status = schemasession.StatusFailed
	step.Error = &schemasession.StepError{Code: code, Message: message, RecordedAt: now}
	s.Metrics.StepsFailed++
	return nil
}

// MarkSkipped is reachable only through an explicit operator action.
func MarkSkipped(s *schemasession.Session, index int, reason string, now time.Time) error {
	step, err := stepAt(s, index)
	if err != nil {
		return err
	}
	switch step.Status {
	case schemasession.StatusPending, schemasession.StatusFailed, schemasession.StatusInProgress:
	default:
		return invalidTransition("%s is %s; only pending, failed or in_progress steps can be skipped", step.ID, step.Status)
	}
	step.Status = schemasession.StatusSkipped
	step.CompletedAt = timePointer(now)
	if reason != "" {
		if step.Metadata == nil {
			step.Metadata = map[string]any{}
		}
		step.Metadata["skip_reason"] = reason
	}
	s.Metrics.StepsSkipped++
	return nil
}

// MarkRegressed moves a completed step back to failed so it becomes
// actionable again.
func MarkRegressed(s *schemasession.Session, index int, message string, now time.Time) error {
	step, err := stepAt(s, index)
	if err != nil {
		return err
	}
	if step.Status != schemasession.StatusCompleted {
		return invalidTransition("%s is %s; only completed steps can regress", step.ID, step.Status)
	}
	step.Status = schemasession.StatusFailed
	step.CompletedAt = nil
	step.Error = &schemasession.StepError{Code: ErrorCodeRegression, Message: message, RecordedAt: now}
	if s.Metrics.StepsCompleted > 0 {
		s.Metrics.StepsCompleted--
	}
	s.Metrics.StepsFailed++
	s.Metrics.Regressions++
	return nil
}

func MarkSuspended(s *schemasession.Session, index int) error {
	step, err := stepAt(s, index)
	if err != nil {
		return err
	}
	if step.Status != schemasession.StatusInProgress {
		return invalidTransition("%s is %s; only in_progress steps can be suspended", step.ID, step.Status)
	}
	step.Status = schemasession.StatusSuspended
	return nil
}

// MarkResumed returns a suspended step to pending.
func MarkResumed(s *schemasession.Session, index int) error {
	step, err := stepAt(s, index)
	if err != nil {
		return err
	}
	if step.Status != schemasession.StatusSuspended {
		return invalidTransition("%s is %s; only suspended steps can resume", step.ID, step.Status)
	}
	step.Status = schemasession.StatusPending
	return nil
}

// CheckCompletion applies the completion rules in precedence order. A
// suspended session is never complete. A ceiling of zero disables its rule.
func CheckCompletion(s *schemasession.Session, now time.Time) Completion {
	counts := Counts(s)
	result := Completion{Counts: counts, Reason: ReasonInProgress}
	switch {
	case counts.Suspended > 0 || s.Suspension != nil:
		result.Reason = ReasonSuspended
	case counts.Pending == 0 && counts.Failed == 0 && counts.InProgress == 0:
		result.Complete = true
		result.Reason = ReasonAllComplete
	case s.Execution.MaxRetries > 0 && s.Execution.TotalRetries >= s.Execution.MaxRetries:
		result.Complete, result.Forced = true, true
		result.Reason = ReasonMaxRetries
	case s.Execution.MaxIterations > 0 && s.Execution.Iteration >= s.Execution.MaxIterations:
		result.Complete, result.Forced = true, true
		result.Reason = ReasonMaxIterations
	case s.Execution.MaxDurationSeconds > 0 && !s.CreatedAt.IsZero() &&
		now.Sub(s.CreatedAt) >= time.Duration(s.Execution.MaxDurationSeconds)*time.Second:
		result.Complete, result.Forced = true, true
		result.Reason = ReasonMaxDuration
	}
	return result
}

// RecomputeMetrics rebuilds the per-status counters from step statuses.
// Regressions and savings are cumulative and kept as recorded.
func RecomputeMetrics(s *schemasession.Session) {
	counts := Counts(s)
	s.Metrics.StepsCompleted = counts.Completed
	s.Metrics.StepsFailed = counts.Failed
	s.Metrics.StepsSkipped = counts.Skipped
}

func stepAt(s *schemasession.Session, index int) (*schemasession.Step, error) {
	if index < 0 || index >= len(s.Steps) {
		return nil, stepNotFound(CanonicalID(index + 1))
	}
	return &s.Steps[index], nil
}

func suspendedStepID(s *schemasession.Session) string {
	if s.Suspension != nil && s.Suspension.StepID != "" {
		return s.Suspension.StepID
	}
	if index, found := SuspendedStep(s); found {
		return s.Steps[index].ID
	}
	return "none"
}

func timePointer(value time.Time) *time.Time {
	return &value
}
