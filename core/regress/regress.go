// Package regress re-verifies previously completed steps after another step
// completes, and downgrades the ones whose check now fails.
package regress

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/harness/core/logging"
	"github.com/davidahmann/harness/core/oracle"
	"github.com/davidahmann/harness/core/projectconfig"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/session"
)

// Verifier is the slice of the oracle the re-checker needs.
type Verifier interface {
	Verify(ctx context.Context, description string) oracle.Result
}

type Finding struct {
	StepID   string `json:"step_id"`
	Index    int    `json:"index"`
	Detector string `json:"detector"`
	Message  string `json:"message"`
}

type Report struct {
	Policy    string    `json:"policy"`
	Trigger   string    `json:"trigger,omitempty"`
	Checked   []string  `json:"checked"`
	Passed    []string  `json:"passed"`
	Skipped   []string  `json:"skipped"`
	Regressed []Finding `json:"regressed"`
	Applied   bool      `json:"applied"`
}

func (r Report) HasRegressions() bool {
	return len(r.Regressed) > 0
}

type Options struct {
	Policy string
	Logger *zap.Logger
}

type Rechecker struct {
	verifier Verifier
	policy   string
	logger   *zap.Logger
}

func New(verifier Verifier, opts Options) *Rechecker {
	policy := opts.Policy
	if policy == "" {
		policy = projectconfig.RegressionBlock
	}
	return &Rechecker{
		verifier: verifier,
		policy:   policy,
		logger:   logging.OrNop(opts.Logger),
	}
}

func (r *Rechecker) Policy() string {
	return r.policy
}

// Recheck verifies every completed step except trigger. It reads s and
// never mutates it, so callers can run it outside the session lock.
func (r *Rechecker) Recheck(ctx context.Context, s *schemasession.Session, trigger int) Report {
	report := Report{
		Policy:    r.policy,
		Checked:   []string{},
		Passed:    []string{},
		Skipped:   []string{},
		Regressed: []Finding{},
	}
	if trigger >= 0 && trigger < len(s.Steps) {
		report.Trigger = s.Steps[trigger].ID
	}
	if r.policy == projectconfig.RegressionOff || r.verifier == nil {
		return report
	}
	for index, step := range s.Steps {
		if index == trigger || step.Status != schemasession.StatusCompleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.logger.Warn("regression re-check interrupted", zap.Error(err))
			break
		}
		report.Checked = append(report.Checked, step.ID)
		result := r.verifier.Verify(ctx, step.Description)
		switch result.Verdict {
		case oracle.VerdictPass:
			report.Passed = append(report.Passed, step.ID)
		case oracle.VerdictFail:
			report.Regressed = append(report.Regressed, Finding{
				StepID:   step.ID,
				Index:    index,
				Detector: result.Detector,
				Message:  result.Message,
			})
		default:
			report.Skipped = append(report.Skipped, step.ID)
		}
	}
	return report
}

// Apply writes the findings of report into s. Under block each regressed
// step is downgraded to failed; under warn the findings are only logged.
// Steps that changed since the report was taken are left alone.
func (r *Rechecker) Apply(s *schemasession.Session, report *Report, now time.Time) int {
	downgraded := 0
	for _, finding := range report.Regressed {
		fields := []zap.Field{
			zap.String("step_id", finding.StepID),
			zap.String("detector", finding.Detector),
			zap.String("message", finding.Message),
			zap.String("policy", r.policy),
		}
		if r.policy != projectconfig.RegressionBlock {
			r.logger.Warn("regression detected", fields...)
			continue
		}
		index := finding.Index
		if index >= len(s.Steps) || s.Steps[index].ID != finding.StepID || s.Steps[index].Status != schemasession.StatusCompleted {
			r.logger.Info("regressed step changed before downgrade; leaving it", fields...)
			continue
		}
		if err := session.MarkRegressed(s, index, fmt.Sprintf("regression: %s", finding.Message), now); err != nil {
			r.logger.Warn("cannot downgrade regressed step", append(fields, zap.Error(err))...)
			continue
		}
		r.logger.Warn("regression detected; step downgraded to failed", fields...)
		downgraded++
	}
	report.Applied = downgraded > 0
	return downgraded
}
