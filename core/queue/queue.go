// Package queue sequences several task ids through one session so a driver
// can move to the next task unattended.
package queue

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	coreerrors "github.com/davidahmann/harness/core/errors"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

const (
	ReasonNoQueue              = "no-queue"
	ReasonQueueComplete        = "queue-complete"
	ReasonPauseBetweenTasks    = "pause-between-tasks"
	ReasonAutoContinueDisabled = "auto-continue-disabled"
	ReasonAutoContinue         = "auto-continue"
)

var ErrNoQueue = errors.New("session has no task queue")

type AdvanceResult struct {
	CompletedTask string `json:"completed_task,omitempty"`
	NextTask      string `json:"next_task,omitempty"`
	QueueComplete bool   `json:"queue_complete"`
	Remaining     int    `json:"remaining"`
}

type Settings struct {
	AutoContinue      bool
	PauseBetweenTasks bool
}

type Continuation struct {
	Continue bool   `json:"continue"`
	Reason   string `json:"reason"`
	NextTask string `json:"next_task,omitempty"`
}

type Summary struct {
	Tasks          []string `json:"tasks"`
	CurrentIndex   int      `json:"current_index"`
	CurrentTask    string   `json:"current_task,omitempty"`
	CompletedTasks []string `json:"completed_tasks"`
	Remaining      int      `json:"remaining"`
	Source         string   `json:"source,omitempty"`
}

// Init attaches a backlog to s, replacing any previous one. A first id that
// differs from the session's task id is logged and accepted.
func Init(s *schemasession.Session, ids []string, source string, now time.Time, logger *zap.Logger) error {
	tasks := make([]string, 0, len(ids))
	for _, id := range ids {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			tasks = append(tasks, trimmed)
		}
	}
	if len(tasks) == 0 {
		return coreerrors.Wrap(fmt.Errorf("task queue needs at least one task id"), coreerrors.CategoryInvalidInput, "queue_empty", "pass ids as harness queue init A,B,C or harness init --queue A,B,C", false)
	}
	if tasks[0] != s.TaskID && logger != nil {
		logger.Warn("queue does not start with the session task", zap.String("task_id", s.TaskID), zap.String("first_queued", tasks[0]))
	}
	s.TaskQueue = &schemasession.TaskQueue{
		Tasks:          tasks,
		CurrentIndex:   0,
		Source:         strings.TrimSpace(source),
		CompletedTasks: []string{},
		CreatedAt:      now,
	}
	return nil
}

// Advance marks the task under the cursor completed and moves on. Once the
// queue is exhausted further calls change nothing.
func Advance(s *schemasession.Session) (AdvanceResult, error) {
	queued := s.TaskQueue
	if queued == nil {
		return AdvanceResult{}, coreerrors.Wrap(ErrNoQueue, coreerrors.CategoryNotFound, "no_queue", "run harness queue init first", false)
	}
	if queued.CurrentIndex >= len(queued.Tasks) {
		return AdvanceResult{QueueComplete: true}, nil
	}
	completed := queued.Tasks[queued.CurrentIndex]
	if !slices.Contains(queued.CompletedTasks, completed) {
		queued.CompletedTasks = append(queued.CompletedTasks, completed)
	}
	queued.CurrentIndex++
	result := AdvanceResult{
		CompletedTask: completed,
		QueueComplete: queued.CurrentIndex >= len(queued.Tasks),
		Remaining:     len(queued.Tasks) - queued.CurrentIndex,
	}
	if !result.QueueComplete {
		result.NextTask = queued.Tasks[queued.CurrentIndex]
	}
	return result, nil
}

// CheckContinuation decides whether a driver may start the next task
// without an operator.
func CheckContinuation(s *schemasession.Session, settings Settings) Continuation {
	queued := s.TaskQueue
	switch {
	case queued == nil || len(queued.Tasks) == 0:
		return Continuation{Reason: ReasonNoQueue}
	case queued.CurrentIndex >= len(queued.Tasks):
		return Continuation{Reason: ReasonQueueComplete}
	}
	next := queued.Tasks[queued.CurrentIndex]
	switch {
	case settings.PauseBetweenTasks:
		return Continuation{Reason: ReasonPauseBetweenTasks, NextTask: next}
	case !settings.AutoContinue:
		return Continuation{Reason: ReasonAutoContinueDisabled, NextTask: next}
	default:
		return Continuation{Continue: true, Reason: ReasonAutoContinue, NextTask: next}
	}
}

func Summarize(s *schemasession.Session) (Summary, bool) {
	queued := s.TaskQueue
	if queued == nil {
		return Summary{}, false
	}
	summary := Summary{
		Tasks:          queued.Tasks,
		CurrentIndex:   queued.CurrentIndex,
		CompletedTasks: queued.CompletedTasks,
		Remaining:      max(len(queued.Tasks)-queued.CurrentIndex, 0),
		Source:         queued.Source,
	}
	if queued.CurrentIndex < len(queued.Tasks) {
		summary.CurrentTask = queued.Tasks[queued.CurrentIndex]
	}
	return summary, true
}
