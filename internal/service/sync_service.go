package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"marketsync/internal/database"
	"marketsync/internal/models"
	"marketsync/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	ErrThrottled     = errors.New("on-demand sync throttled, try again later")
	ErrInvalidTarget = errors.New("invalid target code")
)

// TaskRunner wraps one task execution with retries and status reporting.
type TaskRunner interface {
	Execute(ctx context.Context, task string, fn worker.TaskFunc) (*worker.BatchSummary, error)
}

type BatchRunner interface {
	Run(ctx context.Context, task string, targets []string, op worker.TargetFunc, progress worker.ProgressFunc) *worker.BatchSummary
}

type HealthRunner interface {
	Run(ctx context.Context) *models.HealthReport
}

// Store is the part of storage the operator surface reads.
type Store interface {
	GetTarget(ctx context.Context, code string) (*models.Target, error)
	Unresolved(ctx context.Context, filter database.UnresolvedFilter) ([]models.SyncError, error)
	Stats(ctx context.Context, task string) (*models.SyncErrorStats, error)
}

// ManualTrigger fires a registered task outside its schedule.
type ManualTrigger interface {
	Trigger(ctx context.Context, name string) error
}

type SyncServiceDeps struct {
	Status  *TaskStatusStore
	Runner  TaskRunner
	Batch   BatchRunner
	Sync    worker.TargetFunc
	Health  HealthRunner
	Store   Store
	Trigger ManualTrigger
}

// SyncService is what the operator surface calls into.
type SyncService struct {
	deps     SyncServiceDeps
	throttle *rate.Limiter
	logger   *zerolog.Logger

	baseCtx  context.Context
	inflight sync.WaitGroup
	healthMu sync.Mutex
	now      func() time.Time
}

// NewSyncService builds the service. On-demand runs started through it
// live on baseCtx, not on the caller's request context.
func NewSyncService(baseCtx context.Context, deps SyncServiceDeps, rps float64, burst int, logger *zerolog.Logger) *SyncService {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &SyncService{
		deps:     deps,
		throttle: rate.NewLimiter(rate.Limit(rps), burst),
		logger:   logger,
		baseCtx:  baseCtx,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SyncService) GetTaskStatus(ctx context.Context, task string) (*models.SyncTaskInfo, error) {
	return s.deps.Status.Get(ctx, task)
}

func (s *SyncService) GetAllTaskStatuses(ctx context.Context) ([]*models.SyncTaskInfo, error) {
	return s.deps.Status.List(ctx)
}

// OnDemandTaskName is the status key of on-demand runs for target.
func OnDemandTaskName(target string) string {
	return models.TaskOnDemand + ":" + target
}

// TriggerOnDemand starts a single-target batch in the background and
// returns its handle right away.
func (s *SyncService) TriggerOnDemand(ctx context.Context, target string) (*models.TaskHandle, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, ErrInvalidTarget
	}
	if _, err := s.deps.Store.GetTarget(ctx, target); err != nil {
		if errors.Is(err, database.ErrTargetNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
		}
		return nil, err
	}
	if !s.throttle.Allow() {
		return nil, ErrThrottled
	}

	handle := &models.TaskHandle{
		ID:         uuid.NewString(),
		TaskName:   OnDemandTaskName(target),
		TargetCode: target,
		CreatedAt:  s.now(),
	}

	// A failed target is a per-target outcome, not a failed execution, so
	// the runner does not retry it.
	fn := func(ctx context.Context) (*worker.BatchSummary, error) {
		return s.deps.Batch.Run(ctx, models.TaskOnDemand, []string{target}, s.deps.Sync, nil), nil
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		summary, err := s.deps.Runner.Execute(s.baseCtx, handle.TaskName, fn)
		if err != nil {
			s.logger.Warn().Err(err).Str("handle", handle.ID).Str("target", target).Msg("on-demand sync failed")
			return
		}
		if summary != nil && summary.Failed > 0 {
			cause := errors.New(summary.Errors[target])
			s.logger.Warn().Err(cause).Str("handle", handle.ID).Str("target", target).Msg("on-demand sync failed")
			if err := s.deps.Status.Fail(context.WithoutCancel(s.baseCtx), handle.TaskName, cause, "target failed, see error ledger"); err != nil {
				s.logger.Warn().Err(err).Str("task", handle.TaskName).Msg("failed to mark task failed")
			}
		}
	}()

	s.logger.Info().Str("handle", handle.ID).Str("target", target).Msg("on-demand sync started")
	return handle, nil
}

// RunTask fires a registered task now. The run outlives the caller's
// context.
func (s *SyncService) RunTask(_ context.Context, name string) error {
	if s.deps.Trigger == nil {
		return errors.New("no scheduler attached")
	}
	return s.deps.Trigger.Trigger(s.baseCtx, name)
}

// RunHealthCheck runs the doctor synchronously. Concurrent calls queue up
// behind one another.
func (s *SyncService) RunHealthCheck(ctx context.Context) ([]models.HealthCheckResult, error) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	if err := s.deps.Status.Start(ctx, models.TaskHealthCheck, nil, "manual run"); err != nil {
		s.logger.Warn().Err(err).Msg("failed to mark health check started")
	}
	report := s.deps.Health.Run(ctx)

	critical := len(report.Critical)
	msg := fmt.Sprintf("%d checks, %d critical, %d stubborn, %d dispatched",
		len(report.Results), critical, len(report.Stubborn), report.Dispatched)
	if err := s.deps.Status.Complete(context.WithoutCancel(ctx), models.TaskHealthCheck, msg, nil); err != nil {
		s.logger.Warn().Err(err).Msg("failed to mark health check completed")
	}
	return report.Results, nil
}

func (s *SyncService) ListErrors(ctx context.Context, task string, maxRetryCount *int) ([]models.SyncError, error) {
	return s.deps.Store.Unresolved(ctx, database.UnresolvedFilter{TaskName: task, MaxRetryCount: maxRetryCount})
}

func (s *SyncService) ErrorStats(ctx context.Context, task string) (*models.SyncErrorStats, error) {
	return s.deps.Store.Stats(ctx, task)
}

// Wait blocks until every on-demand run has returned.
func (s *SyncService) Wait() {
	s.inflight.Wait()
}
