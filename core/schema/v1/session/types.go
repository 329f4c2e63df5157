package session

import (
	"encoding/json"
	"time"
)

const (
	SchemaID        = "harness.session"
	SchemaVersion   = "1.0.0"
	HistorySchemaID = "harness.session.archive"
)

type StepType string

const (
	StepTypeAcceptanceCriteria StepType = "acceptance-criteria"
	StepTypeExecution          StepType = "execution"
	StepTypeQualityGate        StepType = "quality-gate"
	StepTypeCustom             StepType = "custom"
)

type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
	StatusSkipped    StepStatus = "skipped"
	StatusSuspended  StepStatus = "suspended"
)

type SuspensionType string

const (
	SuspensionCICD          SuspensionType = "ci-cd"
	SuspensionScheduled     SuspensionType = "scheduled"
	SuspensionRateLimit     SuspensionType = "rate-limit"
	SuspensionHumanReview   SuspensionType = "human-review"
	SuspensionExternalEvent SuspensionType = "external-event"
	SuspensionLongRunning   SuspensionType = "long-running"
)

type ConditionType string

const (
	ConditionTime   ConditionType = "time"
	ConditionPoll   ConditionType = "poll"
	ConditionManual ConditionType = "manual"
	ConditionFile   ConditionType = "file"
)

// Final statuses recorded when a session is archived.
const (
	FinalCompleted = "completed"
	FinalFailed    = "failed"
	FinalCancelled = "cancelled"
)

type Session struct {
	SchemaID          string             `json:"schema_id"`
	SchemaVersion     string             `json:"schema_version"`
	ID                string             `json:"id"`
	TaskID            string             `json:"task_id"`
	TaskType          string             `json:"task_type"`
	Status            string             `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	Steps             []Step             `json:"steps"`
	Execution         Execution          `json:"execution"`
	Suspension        *Suspension        `json:"suspension"`
	SuspensionHistory []SuspensionRecord `json:"suspension_history,omitempty"`
	Metrics           Metrics            `json:"metrics"`
	TaskQueue         *TaskQueue         `json:"task_queue,omitempty"`
	Metadata          map[string]string  `json:"metadata,omitempty"`
}

type Step struct {
	ID                string             `json:"id"`
	Type              StepType           `json:"type"`
	Description       string             `json:"description"`
	Status            StepStatus         `json:"status"`
	Priority          int                `json:"priority"`
	Order             int                `json:"order"`
	Attempts          int                `json:"attempts"`
	MaxAttempts       int                `json:"max_attempts"`
	CreatedAt         time.Time          `json:"created_at"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	LastAttemptAt     *time.Time         `json:"last_attempt_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	VerificationProof *VerificationProof `json:"verification_proof,omitempty"`
	Error             *StepError         `json:"error,omitempty"`
	Metadata          map[string]any     `json:"metadata,omitempty"`
}

type VerificationProof struct {
	Verdict    string    `json:"verdict"`
	Detector   string    `json:"detector,omitempty"`
	Message    string    `json:"message,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}

type StepError struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Execution struct {
	CurrentStepIndex   int        `json:"current_step_index"`
	Iteration          int        `json:"iteration"`
	TotalRetries       int        `json:"total_retries"`
	MaxIterations      int        `json:"max_iterations"`
	MaxRetries         int        `json:"max_retries"`
	MaxDurationSeconds int64      `json:"max_duration_seconds"`
	LastStartedAt      *time.Time `json:"last_started_at,omitempty"`
}

type Metrics struct {
	StepsCompleted int     `json:"steps_completed"`
	StepsFailed    int     `json:"steps_failed"`
	StepsSkipped   int     `json:"steps_skipped"`
	Regressions    int     `json:"regressions"`
	TokensSaved    int64   `json:"tokens_saved"`
	CostSaved      float64 `json:"cost_saved"`
}

type Suspension struct {
	Type            SuspensionType  `json:"type"`
	Reason          string          `json:"reason"`
	SuspendedAt     time.Time       `json:"suspended_at"`
	StepID          string          `json:"step_id,omitempty"`
	StepIndex       int             `json:"step_index"`
	ResumeCondition ResumeCondition `json:"resume_condition"`
	Notify          Notification    `json:"notify"`
}

// ResumeCondition is a tagged union keyed by Type; only the fields of the
// active variant are meaningful.
type ResumeCondition struct {
	Type ConditionType `json:"type"`

	ResumeAfter *time.Time `json:"resume_after,omitempty"`

	Command        string `json:"command,omitempty"`
	Expected       string `json:"expected,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`

	ApprovedBy   string     `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	ApprovalNote string     `json:"approval_note,omitempty"`

	Path            string          `json:"path,omitempty"`
	ExpectedContent json.RawMessage `json:"expected_content,omitempty"`
	JSONPath        string          `json:"json_path,omitempty"`
}

type Notification struct {
	Channels []string `json:"channels,omitempty"`
	OnResume bool     `json:"on_resume"`
	Message  string   `json:"message,omitempty"`
}

type SuspensionRecord struct {
	Type          SuspensionType `json:"type"`
	Reason        string         `json:"reason"`
	ConditionType ConditionType  `json:"condition_type"`
	StepID        string         `json:"step_id,omitempty"`
	SuspendedAt   time.Time      `json:"suspended_at"`
	ResumedAt     time.Time      `json:"resumed_at"`
	ResumedBy     string         `json:"resumed_by,omitempty"`
	Forced        bool           `json:"forced"`
}

type TaskQueue struct {
	Tasks          []string  `json:"tasks"`
	CurrentIndex   int       `json:"current_index"`
	Source         string    `json:"source,omitempty"`
	CompletedTasks []string  `json:"completed_tasks"`
	CreatedAt      time.Time `json:"created_at"`
}

// ArchiveEntry is one element of the bounded session history.
type ArchiveEntry struct {
	SchemaID        string    `json:"schema_id"`
	SchemaVersion   string    `json:"schema_version"`
	FinalStatus     string    `json:"final_status"`
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	Digest          string    `json:"digest"`
	Session         Session   `json:"session"`
}

// Stats aggregates the archive.
type Stats struct {
	Total              int     `json:"total"`
	Completed          int     `json:"completed"`
	Failed             int     `json:"failed"`
	Cancelled          int     `json:"cancelled"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	AvgSteps           float64 `json:"avg_steps"`
	AvgIterations      float64 `json:"avg_iterations"`
	AvgRetries         float64 `json:"avg_retries"`
	TotalRegressions   int     `json:"total_regressions"`
	TokensSaved        int64   `json:"tokens_saved"`
	CostSaved          float64 `json:"cost_saved"`
}

func IsKnownStatus(status StepStatus) bool {
	switch status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped, StatusSuspended:
		return true
	default:
		return false
	}
}

func IsKnownStepType(stepType StepType) bool {
	switch stepType {
	case StepTypeAcceptanceCriteria, StepTypeExecution, StepTypeQualityGate, StepTypeCustom:
		return true
	default:
		return false
	}
}

func IsKnownSuspensionType(value SuspensionType) bool {
	switch value {
	case SuspensionCICD, SuspensionScheduled, SuspensionRateLimit, SuspensionHumanReview, SuspensionExternalEvent, SuspensionLongRunning:
		return true
	default:
		return false
	}
}

func IsKnownConditionType(value ConditionType) bool {
	switch value {
	case ConditionTime, ConditionPoll, ConditionManual, ConditionFile:
		return true
	default:
		return false
	}
}

func IsFinalStatus(value string) bool {
	return value == FinalCompleted || value == FinalFailed || value == FinalCancelled
}
