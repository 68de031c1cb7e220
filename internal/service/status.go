package service

import (
	"context"
	"math"
	"sync"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

// TaskStatusStore tracks the lifecycle of recurring tasks on top of an
// expiring StatusRepository. Every write refreshes the record's TTL.
type TaskStatusStore struct {
	repo   domain.StatusRepository
	logger *zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewTaskStatusStore(repo domain.StatusRepository, logger *zerolog.Logger) *TaskStatusStore {
	return &TaskStatusStore{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the task's record, or the idle default when none is stored.
func (s *TaskStatusStore) Get(ctx context.Context, task string) (*models.SyncTaskInfo, error) {
	info, err := s.repo.GetStatus(ctx, task)
	if err != nil {
		s.logger.Error().Err(err).Str("task", task).Msg("failed to get task status")
		return nil, err
	}
	if info == nil {
		return models.DefaultTaskInfo(task), nil
	}
	return info, nil
}

func (s *TaskStatusStore) List(ctx context.Context) ([]*models.SyncTaskInfo, error) {
	return s.repo.ListStatuses(ctx)
}

func (s *TaskStatusStore) Start(ctx context.Context, task string, total *int, message string) error {
	return s.update(ctx, task, func(info *models.SyncTaskInfo, now time.Time) {
		zero := 0.0
		info.Status = models.TaskStatusRunning
		info.LastRun = &now
		info.Progress = &zero
		info.RecordsProcessed = 0
		info.RecordsTotal = total
		info.Message = orDefault(message, "started")
		info.Error = nil
	})
}

func (s *TaskStatusStore) UpdateProgress(ctx context.Context, task string, processed int, total *int, message string) error {
	return s.update(ctx, task, func(info *models.SyncTaskInfo, _ time.Time) {
		info.Status = models.TaskStatusRunning
		info.RecordsProcessed = processed
		if total != nil {
			info.RecordsTotal = total
		}
		if info.RecordsTotal != nil && *info.RecordsTotal > 0 {
			p := Progress(processed, *info.RecordsTotal)
			info.Progress = &p
		}
		if message != "" {
			info.Message = message
		}
	})
}

func (s *TaskStatusStore) Complete(ctx context.Context, task, message string, nextRun *time.Time) error {
	return s.update(ctx, task, func(info *models.SyncTaskInfo, now time.Time) {
		full := 100.0
		info.Status = models.TaskStatusCompleted
		info.Progress = &full
		info.LastSuccess = &now
		if nextRun != nil {
			info.NextRun = nextRun
		}
		info.Message = orDefault(message, "completed")
		info.Error = nil
	})
}

func (s *TaskStatusStore) Fail(ctx context.Context, task string, taskErr error, message string) error {
	return s.update(ctx, task, func(info *models.SyncTaskInfo, _ time.Time) {
		info.Status = models.TaskStatusFailed
		if taskErr != nil {
			msg := taskErr.Error()
			info.Error = &msg
		}
		info.Message = orDefault(message, "failed")
	})
}

func (s *TaskStatusStore) SetNextRun(ctx context.Context, task string, next time.Time) error {
	return s.update(ctx, task, func(info *models.SyncTaskInfo, _ time.Time) {
		next := next
		info.NextRun = &next
	})
}

func (s *TaskStatusStore) update(ctx context.Context, task string, apply func(*models.SyncTaskInfo, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.Get(ctx, task)
	if err != nil {
		return err
	}
	apply(info, s.now())

	if err := s.repo.SetStatus(ctx, info); err != nil {
		s.logger.Error().Err(err).Str("task", task).Str("status", info.Status).Msg("failed to store task status")
		return err
	}
	return nil
}

// Progress returns processed/total as a percentage rounded to one decimal.
func Progress(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*1000) / 10
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
