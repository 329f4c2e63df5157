// Package suspend pauses a session until an external condition holds and
// resumes it once the condition is met, or when forced.
package suspend

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/harness/core/logging"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
	"github.com/davidahmann/harness/core/shell"
)

const defaultActor = "operator"

// Config describes one pause. For a time condition without resume_after,
// Duration is added to the current time.
type Config struct {
	Type      schemasession.SuspensionType
	Reason    string
	Condition schemasession.ResumeCondition
	Duration  time.Duration
	Notify    schemasession.Notification
}

type Options struct {
	Runner shell.Runner
	Logger *zap.Logger
	// PollTimeout and SuspiciousPolicy override the workspace config.
	PollTimeout      time.Duration
	SuspiciousPolicy string
}

type Controller struct {
	store            *session.Store
	runner           shell.Runner
	logger           *zap.Logger
	pollTimeout      time.Duration
	suspiciousPolicy string
}

func New(store *session.Store, opts Options) *Controller {
	cfg := store.Workspace().Config
	controller := &Controller{
		store:            store,
		runner:           opts.Runner,
		logger:           logging.OrNop(opts.Logger),
		pollTimeout:      opts.PollTimeout,
		suspiciousPolicy: opts.SuspiciousPolicy,
	}
	if controller.runner == nil {
		controller.runner = shell.ExecRunner{}
	}
	if controller.pollTimeout <= 0 {
		controller.pollTimeout = cfg.PollTimeout()
	}
	if controller.suspiciousPolicy == "" {
		controller.suspiciousPolicy = cfg.SuspiciousCommandPolicy()
	}
	return controller
}

type ResumeOptions struct {
	Force bool
	Actor string
}

type ResumeResult struct {
	Resumed bool         `json:"resumed"`
	Forced  bool         `json:"forced"`
	StepID  string       `json:"step_id,omitempty"`
	Check   *CheckResult `json:"check,omitempty"`
}

// Suspend records a pause and parks the in_progress step, if any.
func (c *Controller) Suspend(ctx context.Context, cfg Config) (schemasession.Suspension, error) {
	if err := c.validate(&cfg); err != nil {
		return schemasession.Suspension{}, err
	}
	var suspension schemasession.Suspension
	_, err := c.store.Update(ctx, func(current *schemasession.Session) error {
		if session.IsSuspended(current) {
			stepID := "none"
			if current.Suspension != nil && current.Suspension.StepID != "" {
				stepID = current.Suspension.StepID
			}
			return alreadySuspended(stepID)
		}
		now := c.store.Now()
		condition := cfg.Condition
		if condition.Type == schemasession.ConditionTime && condition.ResumeAfter == nil {
			resumeAfter := now.Add(cfg.Duration)
			condition.ResumeAfter = &resumeAfter
		}
		suspension = schemasession.Suspension{
			Type:            cfg.Type,
			Reason:          cfg.Reason,
			SuspendedAt:     now,
			StepIndex:       -1,
			ResumeCondition: condition,
			Notify:          cfg.Notify,
		}
		if index, found := session.ActiveStep(current); found {
			if err := session.MarkSuspended(current, index); err != nil {
				return err
			}
			suspension.StepID = current.Steps[index].ID
			suspension.StepIndex = index
		}
		current.Suspension = &suspension
		return nil
	})
	if err != nil {
		return schemasession.Suspension{}, err
	}
	c.logger.Info("session suspended",
		zap.String("type", string(suspension.Type)),
		zap.String("condition", string(suspension.ResumeCondition.Type)),
		zap.String("step_id", suspension.StepID),
	)
	return suspension, nil
}

// Check evaluates the resume condition without changing anything.
func (c *Controller) Check(ctx context.Context) (CheckResult, error) {
	current, err := c.store.Load(ctx)
	if err != nil {
		return CheckResult{}, err
	}
	if !session.IsSuspended(current) {
		return CheckResult{}, notSuspended()
	}
	if current.Suspension == nil {
		return CheckResult{CanResume: true, Reason: "suspended step has no suspension record"}, nil
	}
	return c.evaluate(ctx, current.Suspension.ResumeCondition), nil
}

// Resume clears the suspension when its condition holds, or unconditionally
// with Force. An unmet condition is a result with Resumed false, not an error.
func (c *Controller) Resume(ctx context.Context, opts ResumeOptions) (ResumeResult, error) {
	snapshot, err := c.store.Load(ctx)
	if err != nil {
		return ResumeResult{}, err
	}
	if !session.IsSuspended(snapshot) {
		return ResumeResult{}, notSuspended()
	}
	result := ResumeResult{Forced: opts.Force}
	if !opts.Force && snapshot.Suspension != nil {
		check := c.evaluate(ctx, snapshot.Suspension.ResumeCondition)
		result.Check = &check
		if !check.CanResume {
			return result, nil
		}
	}

	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = defaultActor
	}
	var resumed *schemasession.Suspension
	_, err = c.store.Update(ctx, func(current *schemasession.Session) error {
		if !session.IsSuspended(current) {
			return notSuspended()
		}
		if snapshot.Suspension != nil && (current.Suspension == nil || !current.Suspension.SuspendedAt.Equal(snapshot.Suspension.SuspendedAt)) {
			return invalidCondition("suspension changed while its condition was evaluated; retry")
		}
		now := c.store.Now()
		if index, found := session.SuspendedStep(current); found {
			if err := session.MarkResumed(current, index); err != nil {
				return err
			}
			result.StepID = current.Steps[index].ID
		}
		if current.Suspension != nil {
			record := schemasession.SuspensionRecord{
				Type:          current.Suspension.Type,
				Reason:        current.Suspension.Reason,
				ConditionType: current.Suspension.ResumeCondition.Type,
				StepID:        current.Suspension.StepID,
				SuspendedAt:   current.Suspension.SuspendedAt,
				ResumedAt:     now,
				ResumedBy:     actor,
				Forced:        opts.Force,
			}
			current.SuspensionHistory = append(current.SuspensionHistory, record)
			resumed = current.Suspension
		}
		current.Suspension = nil
		return nil
	})
	if err != nil {
		return ResumeResult{}, err
	}
	result.Resumed = true
	c.logger.Info("session resumed", zap.String("step_id", result.StepID), zap.Bool("forced", opts.Force), zap.String("actor", actor))
	if resumed != nil && resumed.Notify.OnResume {
		c.logger.Info("resume notification",
			zap.Strings("channels", resumed.Notify.Channels),
			zap.String("message", resumed.Notify.Message),
			zap.String("reason", resumed.Reason),
		)
	}
	return result, nil
}

// Approve satisfies a manual condition. Resume is still a separate step.
func (c *Controller) Approve(ctx context.Context, actor, note string) (schemasession.Suspension, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = defaultActor
	}
	var approved schemasession.Suspension
	_, err := c.store.Update(ctx, func(current *schemasession.Session) error {
		if current.Suspension == nil {
			return notSuspended()
		}
		if current.Suspension.ResumeCondition.Type != schemasession.ConditionManual {
			return notManual(current.Suspension.ResumeCondition.Type)
		}
		now := c.store.Now()
		current.Suspension.ResumeCondition.ApprovedBy = actor
		current.Suspension.ResumeCondition.ApprovedAt = &now
		current.Suspension.ResumeCondition.ApprovalNote = note
		approved = *current.Suspension
		return nil
	})
	if err != nil {
		return schemasession.Suspension{}, err
	}
	c.logger.Info("suspension approved", zap.String("actor", actor))
	return approved, nil
}

func (c *Controller) validate(cfg *Config) error {
	condition := &cfg.Condition
	if !schemasession.IsKnownConditionType(condition.Type) {
		return invalidCondition("unknown condition type %q", condition.Type)
	}
	switch condition.Type {
	case schemasession.ConditionTime:
		if condition.ResumeAfter == nil && cfg.Duration <= 0 {
			return invalidCondition("time condition needs resume_after or a positive duration")
		}
	case schemasession.ConditionPoll:
		condition.Command = strings.TrimSpace(condition.Command)
		if condition.Command == "" {
			return invalidCondition("poll condition needs a command")
		}
		if assessment := shell.Validate(condition.Command); assessment.Blocked() {
			return unsafeCommand(strings.Join(assessment.Reasons, ", "))
		}
		if condition.TimeoutSeconds < 0 {
			return invalidCondition("poll timeout must not be negative")
		}
	case schemasession.ConditionFile:
		condition.Path = strings.TrimSpace(condition.Path)
		if condition.Path == "" {
			return invalidCondition("file condition needs a path")
		}
	}
	if cfg.Type == "" {
		cfg.Type = defaultType(condition.Type)
	}
	if !schemasession.IsKnownSuspensionType(cfg.Type) {
		return invalidCondition("unknown suspension type %q", cfg.Type)
	}
	if strings.TrimSpace(cfg.Reason) == "" {
		cfg.Reason = string(cfg.Type)
	}
	return nil
}

func defaultType(condition schemasession.ConditionType) schemasession.SuspensionType {
	switch condition {
	case schemasession.ConditionTime:
		return schemasession.SuspensionScheduled
	case schemasession.ConditionPoll:
		return schemasession.SuspensionCICD
	case schemasession.ConditionManual:
		return schemasession.SuspensionHumanReview
	default:
		return schemasession.SuspensionExternalEvent
	}
}
