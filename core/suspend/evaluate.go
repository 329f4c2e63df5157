package suspend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/davidahmann/harness/core/projectconfig"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/shell"
)

// CheckResult is the outcome of evaluating a resume condition. Evaluation
// problems such as a failing command or an unreadable file are reported here
// with CanResume false rather than as errors.
type CheckResult struct {
	CanResume        bool                        `json:"can_resume"`
	Condition        schemasession.ConditionType `json:"condition"`
	Reason           string                      `json:"reason"`
	RemainingSeconds int64                       `json:"remaining_seconds,omitempty"`
	Output           string                      `json:"output,omitempty"`
	Blocked          bool                        `json:"blocked,omitempty"`
	Warnings         []string                    `json:"warnings,omitempty"`
}

func (c *Controller) evaluate(ctx context.Context, condition schemasession.ResumeCondition) CheckResult {
	switch condition.Type {
	case schemasession.ConditionTime:
		return evaluateTime(condition, c.store.Now())
	case schemasession.ConditionPoll:
		return c.evaluatePoll(ctx, condition)
	case schemasession.ConditionManual:
		return evaluateManual(condition)
	case schemasession.ConditionFile:
		return c.evaluateFile(condition)
	default:
		return CheckResult{Condition: condition.Type, Reason: fmt.Sprintf("unknown condition type %q", condition.Type)}
	}
}

func evaluateTime(condition schemasession.ResumeCondition, now time.Time) CheckResult {
	result := CheckResult{Condition: schemasession.ConditionTime}
	if condition.ResumeAfter == nil {
		result.Reason = "time condition has no resume_after"
		return result
	}
	remaining := condition.ResumeAfter.Sub(now)
	if remaining <= 0 {
		result.CanResume = true
		result.Reason = "resume time reached"
		return result
	}
	result.RemainingSeconds = int64((remaining + time.Second - 1) / time.Second)
	result.Reason = fmt.Sprintf("%ds remaining until %s", result.RemainingSeconds, condition.ResumeAfter.UTC().Format(time.RFC3339))
	return result
}

func (c *Controller) evaluatePoll(ctx context.Context, condition schemasession.ResumeCondition) CheckResult {
	result := CheckResult{Condition: schemasession.ConditionPoll}
	assessment := shell.Validate(condition.Command)
	if assessment.Blocked() {
		result.Blocked = true
		result.Reason = "poll command blocked: " + strings.Join(assessment.Reasons, ", ")
		return result
	}
	if assessment.Suspicious() {
		warning := "poll command is suspicious: " + strings.Join(assessment.Reasons, ", ")
		if c.suspiciousPolicy == projectconfig.SuspiciousRefuse {
			result.Blocked = true
			result.Reason = warning + " (refused by suspend.suspicious_commands)"
			return result
		}
		c.logger.Warn("running suspicious poll command", zap.String("command", condition.Command), zap.Strings("reasons", assessment.Reasons))
		result.Warnings = append(result.Warnings, warning)
	}

	timeout := c.pollTimeout
	if condition.TimeoutSeconds > 0 {
		timeout = time.Duration(condition.TimeoutSeconds) * time.Second
	}
	outcome, err := c.runner.Run(ctx, shell.Command{Line: condition.Command, Dir: c.store.Workspace().Root, Timeout: timeout})
	if err != nil {
		result.Reason = fmt.Sprintf("poll command could not run: %v", err)
		return result
	}
	result.Output = strings.TrimSpace(outcome.Stdout)
	if outcome.TimedOut {
		result.Reason = fmt.Sprintf("poll command timed out after %s", timeout)
		return result
	}
	expected := strings.TrimSpace(condition.Expected)
	if outcome.ExitCode != 0 || expected == "" {
		result.CanResume = outcome.ExitCode == 0
		result.Reason = fmt.Sprintf("poll command exited %d", outcome.ExitCode)
		return result
	}
	result.CanResume = result.Output == expected
	if result.CanResume {
		result.Reason = "poll output matched " + expected
	} else {
		result.Reason = fmt.Sprintf("poll output %q, waiting for %q", result.Output, expected)
	}
	return result
}

func evaluateManual(condition schemasession.ResumeCondition) CheckResult {
	result := CheckResult{Condition: schemasession.ConditionManual}
	if condition.ApprovedAt == nil || strings.TrimSpace(condition.ApprovedBy) == "" {
		result.Reason = "awaiting approval; run harness approve"
		return result
	}
	result.CanResume = true
	result.Reason = fmt.Sprintf("approved by %s at %s", condition.ApprovedBy, condition.ApprovedAt.UTC().Format(time.RFC3339))
	return result
}

func (c *Controller) evaluateFile(condition schemasession.ResumeCondition) CheckResult {
	result := CheckResult{Condition: schemasession.ConditionFile}
	path := c.store.Workspace().Resolve(condition.Path)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			result.Reason = "waiting for " + condition.Path
		} else {
			result.Reason = fmt.Sprintf("cannot stat %s: %v", condition.Path, err)
		}
		return result
	}
	if len(condition.ExpectedContent) == 0 {
		result.CanResume = true
		result.Reason = condition.Path + " exists"
		return result
	}
	if info.IsDir() {
		result.Reason = condition.Path + " is a directory; expected content needs a file"
		return result
	}
	// #nosec G304 -- the operator chose this path when suspending.
	content, err := os.ReadFile(path)
	if err != nil {
		result.Reason = fmt.Sprintf("cannot read %s: %v", condition.Path, err)
		return result
	}

	selected := content
	if condition.JSONPath != "" {
		if !gjson.ValidBytes(content) {
			result.Reason = condition.Path + " is not valid JSON"
			return result
		}
		match := gjson.GetBytes(content, condition.JSONPath)
		if !match.Exists() {
			result.Reason = fmt.Sprintf("%s has no value at %s", condition.Path, condition.JSONPath)
			return result
		}
		selected = []byte(match.Raw)
	}
	var actual, expected any
	if err := json.Unmarshal(selected, &actual); err != nil {
		result.Reason = fmt.Sprintf("%s is not valid JSON: %v", condition.Path, err)
		return result
	}
	if err := json.Unmarshal(condition.ExpectedContent, &expected); err != nil {
		result.Reason = fmt.Sprintf("expected content is not valid JSON: %v", err)
		return result
	}
	if !cmp.Equal(actual, expected) {
		result.Output = string(selected)
		result.Reason = condition.Path + " content does not match yet"
		return result
	}
	result.CanResume = true
	result.Reason = condition.Path + " content matched"
	return result
}
