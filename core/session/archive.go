package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	coreerrors "github.com/davidahmann/harness/core/errors"
	"github.com/davidahmann/harness/core/fsx"
	"github.com/davidahmann/harness/core/jcs"
	"github.com/davidahmann/harness/core/lock"
	schemasession "github.com/davidahmann/harness/core/schema/v1/session"
)

// Archive moves the active session into history with finalStatus. Metric
// counts are recomputed from step statuses first. On a completed archive the
// learning hook runs after the lock is released; its failure is only logged.
func (s *Store) Archive(ctx context.Context, finalStatus string) (schemasession.ArchiveEntry, error) {
	if !schemasession.IsFinalStatus(finalStatus) {
		return schemasession.ArchiveEntry{}, invalidInput(fmt.Errorf("final status must be completed, failed or cancelled: %q", finalStatus), "invalid_final_status")
	}
	var entry schemasession.ArchiveEntry
	err := lock.With(ctx, s.Path(), s.lockOptions, func() error {
		current, err := s.Load(ctx)
		if err != nil {
			return err
		}
		now := s.Now()
		RecomputeMetrics(current)
		current.Status = finalStatus
		current.UpdatedAt = now

		digest, err := jcs.DigestValue(current)
		if err != nil {
			return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "archive_digest", "", false)
		}
		entry = schemasession.ArchiveEntry{
			SchemaID:        schemasession.HistorySchemaID,
			SchemaVersion:   schemasession.SchemaVersion,
			FinalStatus:     finalStatus,
			ArchivedAt:      now,
			DurationSeconds: int64(now.Sub(current.CreatedAt) / time.Second),
			Digest:          digest,
			Session:         *current,
		}

		history := s.readHistory()
		history = append(history, entry)
		if limit := s.workspace.Config.HistorySize(); len(history) > limit {
			history = history[len(history)-limit:]
		}
		if err := fsx.WriteJSONAtomic(s.workspace.HistoryPath(), history); err != nil {
			return coreerrors.Wrap(fmt.Errorf("write history: %w", err), coreerrors.CategoryIOFailure, "history_write", "", false)
		}
		if _, err := fsx.RemoveIfExists(s.Path()); err != nil {
			return coreerrors.Wrap(fmt.Errorf("remove archived session: %w", err), coreerrors.CategoryIOFailure, "session_write", "", false)
		}
		return nil
	})
	if err != nil {
		return schemasession.ArchiveEntry{}, err
	}
	s.logger.Info("session archived",
		zap.String("task_id", entry.Session.TaskID),
		zap.String("final_status", finalStatus),
		zap.Int64("duration_seconds", entry.DurationSeconds),
	)
	if finalStatus == schemasession.FinalCompleted {
		s.notifyLearning(ctx, entry)
	}
	return entry, nil
}

func (s *Store) notifyLearning(ctx context.Context, entry schemasession.ArchiveEntry) {
	if s.hook == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("learning hook panicked", zap.Any("panic", recovered), zap.String("task_id", entry.Session.TaskID))
		}
	}()
	if err := s.hook.SessionCompleted(ctx, entry); err != nil {
		s.logger.Warn("learning hook failed", zap.String("task_id", entry.Session.TaskID), zap.Error(err))
	}
}

// History returns archived sessions, oldest first.
func (s *Store) History(ctx context.Context) ([]schemasession.ArchiveEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readHistory(), nil
}

// readHistory tolerates a missing or damaged file; damaged entries are dropped.
func (s *Store) readHistory() []schemasession.ArchiveEntry {
	payload, found, err := fsx.ReadFileIfExists(s.workspace.HistoryPath())
	if err != nil {
		s.logger.Warn("history unreadable; starting empty", zap.Error(err))
		return []schemasession.ArchiveEntry{}
	}
	if !found {
		return []schemasession.ArchiveEntry{}
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		s.logger.Warn("history is not a JSON array; starting empty", zap.Error(err))
		return []schemasession.ArchiveEntry{}
	}
	entries := make([]schemasession.ArchiveEntry, 0, len(raw))
	for position, message := range raw {
		var entry schemasession.ArchiveEntry
		if err := json.Unmarshal(message, &entry); err != nil {
			s.logger.Warn("dropping malformed history entry", zap.Int("position", position), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Stats aggregates the archived history.
func (s *Store) Stats(ctx context.Context) (schemasession.Stats, error) {
	history, err := s.History(ctx)
	if err != nil {
		return schemasession.Stats{}, err
	}
	return Aggregate(history), nil
}

func Aggregate(history []schemasession.ArchiveEntry) schemasession.Stats {
	stats := schemasession.Stats{Total: len(history)}
	if len(history) == 0 {
		return stats
	}
	var duration, steps, iterations, retries float64
	for _, entry := range history {
		switch entry.FinalStatus {
		case schemasession.FinalCompleted:
			stats.Completed++
		case schemasession.FinalFailed:
			stats.Failed++
		case schemasession.FinalCancelled:
			stats.Cancelled++
		}
		duration += float64(entry.DurationSeconds)
		steps += float64(len(entry.Session.Steps))
		iterations += float64(entry.Session.Execution.Iteration)
		retries += float64(entry.Session.Execution.TotalRetries)
		stats.TotalRegressions += entry.Session.Metrics.Regressions
		stats.TokensSaved += entry.Session.Metrics.TokensSaved
		stats.CostSaved += entry.Session.Metrics.CostSaved
	}
	count := float64(len(history))
	stats.AvgDurationSeconds = duration / count
	stats.AvgSteps = steps / count
	stats.AvgIterations = iterations / count
	stats.AvgRetries = retries / count
	return stats
}

// LastQueue returns the task queue of the most recently archived session when
// it still has tasks left.
func (s *Store) LastQueue(ctx context.Context) (*schemasession.TaskQueue, bool, error) {
	history, err := s.History(ctx)
	if err != nil {
		return nil, false, err
	}
	for index := len(history) - 1; index >= 0; index-- {
		queued := history[index].Session.TaskQueue
		if queued == nil {
			continue
		}
		if queued.CurrentIndex >= len(queued.Tasks) {
			return nil, false, nil
		}
		inherited := *queued
		inherited.Tasks = append([]string(nil), queued.Tasks...)
		inherited.CompletedTasks = append([]string{}, queued.CompletedTasks...)
		return &inherited, true, nil
	}
	return nil, false, nil
}
