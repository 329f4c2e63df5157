// Package session persists the active session document, applies step
// transitions to it, and archives finished sessions into a bounded history.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	coreerrors "github.com/davidahmann/harness/core/errors"
	"github.com/davidahmann/harness/core/fsx"
	"github.com/davidahmann/harness/core/learn"
	"github.com/davidahmann/harness/core/lock"
	"github.com/davidahmann/harness/core/logging"
	"github.com/davidahmann/harness/core/queue"
	"github.com/davidahmann/harness/core/schema/validate"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
	"github.com/davidahmann/harness/core/workspace"
)

const StatusActive = "active"

type StoreOptions struct {
	Logger *zap.Logger
	// Hook receives completed archives. Nil disables learning.
	Hook learn.Hook
	// Lock overrides the lock tuning derived from the workspace config.
	Lock *lock.Options
	Now  func() time.Time
}

// Store is the only persistence boundary for session state. Every mutation
// goes through Update, which holds the session lock across read and write.
type Store struct {
	workspace   workspace.Workspace
	logger      *zap.Logger
	hook        learn.Hook
	lockOptions lock.Options
	now         func() time.Time
}

type CreateOptions struct {
	TaskID      string
	TaskType    string
	Steps       []StepInput
	Queue       []string
	QueueSource string

	// InheritQueue carries an unfinished queue over from an archived session.
	InheritQueue *schemasession.TaskQueue
	Metadata     map[string]string
}

func NewStore(ws workspace.Workspace, opts StoreOptions) *Store {
	logger := logging.OrNop(opts.Logger)
	lockOptions := ws.LockOptions(logger)
	if opts.Lock != nil {
		lockOptions = *opts.Lock
		if lockOptions.Logger == nil {
			lockOptions.Logger = logger
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		workspace:   ws,
		logger:      logger,
		hook:        opts.Hook,
		lockOptions: lockOptions,
		now:         now,
	}
}

func (s *Store) Workspace() workspace.Workspace {
	return s.workspace
}

func (s *Store) Path() string {
	return s.workspace.SessionPath()
}

func (s *Store) Now() time.Time {
	return s.now().UTC()
}

func (s *Store) Exists() (bool, error) {
	_, found, err := fsx.ReadFileIfExists(s.Path())
	return found, err
}

// Load reads the active session. Schema violations are logged and repaired
// rather than returned; only a missing or non-object document is an error.
func (s *Store) Load(ctx context.Context) (*schemasession.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, found, err := fsx.ReadFileIfExists(s.Path())
	if err != nil {
		return nil, coreerrors.Wrap(fmt.Errorf("read session: %w", err), coreerrors.CategoryIOFailure, "session_read", "check permissions on "+s.workspace.StateDir, false)
	}
	if !found {
		return nil, noSession()
	}
	if validateErr := validate.ValidateSession(payload); validateErr != nil {
		s.logger.Warn("session failed schema validation; repairing", zap.String("path", s.Path()), zap.Error(validateErr))
	}
	loaded, repairs, err := decodeSession(payload, s.defaults(), s.Now())
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "session_corrupt", "inspect "+s.Path()+" or run harness clear", false)
	}
	for _, repair := range repairs {
		s.logger.Warn("session repaired on load", zap.String("repair", repair))
	}
	return loaded, nil
}

// Save stamps updated_at and rewrites the session atomically. Callers that
// read before writing should use Update instead.
func (s *Store) Save(ctx context.Context, current *schemasession.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current.UpdatedAt = s.Now()
	if err := fsx.WriteJSONAtomic(s.Path(), current); err != nil {
		return coreerrors.Wrap(fmt.Errorf("write session: %w", err), coreerrors.CategoryIOFailure, "session_write", "check free space and permissions on "+s.workspace.StateDir, false)
	}
	return nil
}

// Update runs mutate on the freshly loaded session under the session lock and
// saves the result. Nothing is written when mutate fails.
func (s *Store) Update(ctx context.Context, mutate func(*schemasession.Session) error) (*schemasession.Session, error) {
	var updated *schemasession.Session
	err := lock.With(ctx, s.Path(), s.lockOptions, func() error {
		current, err := s.Load(ctx)
		if err != nil {
			return err
		}
		if err := mutate(current); err != nil {
			return err
		}
		if err := s.Save(ctx, current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Create returns the existing session for the same task unchanged, or builds
// and persists a new one. It does not lock; use CreateLocked from processes
// that may race.
func (s *Store) Create(ctx context.Context, opts CreateOptions) (*schemasession.Session, bool, error) {
	taskID := strings.TrimSpace(opts.TaskID)
	if taskID == "" {
		return nil, false, invalidInput(fmt.Errorf("task id is required"), "task_required")
	}
	existing, err := s.Load(ctx)
	switch {
	case err == nil:
		if existing.TaskID == taskID {
			return existing, false, nil
		}
		return nil, false, coreerrors.Wrap(
			fmt.Errorf("%w: active task %s, requested %s", ErrSessionActive, existing.TaskID, taskID),
			coreerrors.CategoryInvalidInput,
			"session_active",
			"archive or clear the active session first",
			false,
		)
	case !errors.Is(err, ErrNoSession):
		return nil, false, err
	}

	now := s.Now()
	steps, err := NormalizeSteps(opts.Steps, 0, now)
	if err != nil {
		return nil, false, err
	}
	defaults := s.defaults()
	taskType := strings.TrimSpace(opts.TaskType)
	if taskType == "" {
		taskType = "feature"
	}
	created := &schemasession.Session{
		SchemaID:      schemasession.SchemaID,
		SchemaVersion: schemasession.SchemaVersion,
		ID:            uuid.NewString(),
		TaskID:        taskID,
		TaskType:      taskType,
		Status:        StatusActive,
		CreatedAt:     now,
		Steps:         steps,
		Execution: schemasession.Execution{
			CurrentStepIndex:   -1,
			MaxIterations:      defaults.MaxIterations,
			MaxRetries:         defaults.MaxRetries,
			MaxDurationSeconds: defaults.MaxDurationSeconds,
		},
		Metadata: opts.Metadata,
	}
	switch {
	case opts.InheritQueue != nil:
		inherited := *opts.InheritQueue
		created.TaskQueue = &inherited
	case len(opts.Queue) > 0:
		if err := queue.Init(created, opts.Queue, opts.QueueSource, now, s.logger); err != nil {
			return nil, false, err
		}
	}
	if err := s.Save(ctx, created); err != nil {
		return nil, false, err
	}
	if removed, removeErr := fsx.RemoveIfExists(s.workspace.LegacyStatePath()); removeErr != nil {
		s.logger.Warn("could not remove legacy state file", zap.String("path", s.workspace.LegacyStatePath()), zap.Error(removeErr))
	} else if removed {
		s.logger.Info("removed legacy state file", zap.String("path", s.workspace.LegacyStatePath()))
	}
	s.logger.Info("session created", zap.String("task_id", taskID), zap.String("session_id", created.ID), zap.Int("steps", len(steps)))
	return created, true, nil
}

// CreateLocked runs Create under the session lock so two processes cannot
// both create divergent sessions.
func (s *Store) CreateLocked(ctx context.Context, opts CreateOptions) (*schemasession.Session, bool, error) {
	var (
		result  *schemasession.Session
		created bool
	)
	err := lock.With(ctx, s.Path(), s.lockOptions, func() error {
		var createErr error
		result, created, createErr = s.Create(ctx, opts)
		return createErr
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// Clear deletes the active session without archiving it.
func (s *Store) Clear(ctx context.Context) (bool, error) {
	var removed bool
	err := lock.With(ctx, s.Path(), s.lockOptions, func() error {
		var removeErr error
		removed, removeErr = fsx.RemoveIfExists(s.Path())
		if removeErr != nil {
			return coreerrors.Wrap(fmt.Errorf("remove session: %w", removeErr), coreerrors.CategoryIOFailure, "session_write", "", false)
		}
		return nil
	})
	if removed {
		s.logger.Info("session cleared", zap.String("path", s.Path()))
	}
	return removed, err
}

func (s *Store) defaults() Defaults {
	cfg := s.workspace.Config
	return Defaults{
		MaxIterations:      cfg.MaxIterations(),
		MaxRetries:         cfg.MaxRetries(),
		MaxDurationSeconds: int64(cfg.MaxDuration() / time.Second),
	}
}
