package scheduler

import (
	"context"
	"sync"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/worker"

	"github.com/rs/zerolog"
)

// maxIdle bounds one sleep of the loop so wall-clock jumps are noticed.
const maxIdle = time.Minute

// Executor runs one task execution to its end.
type Executor interface {
	Execute(ctx context.Context, task string, fn worker.TaskFunc) (*worker.BatchSummary, error)
}

// Scheduler fires registered tasks when they are due. It only decides when;
// executions are handed to the Executor on their own goroutines.
type Scheduler struct {
	registry *Registry
	exec     Executor
	status   domain.StatusTracker
	logger   *zerolog.Logger

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time

	wg sync.WaitGroup
}

func New(registry *Registry, exec Executor, status domain.StatusTracker, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		exec:     exec,
		status:   status,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
	}
}

// Run drives the registry until ctx is done, then waits for executions
// already started.
func (s *Scheduler) Run(ctx context.Context) {
	s.registry.Start(s.now())
	s.publishNextRuns(ctx)
	s.logger.Info().Strs("tasks", s.registry.Names()).Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")
	defer s.wg.Wait()

	for {
		s.Tick(ctx)

		wait, ok := s.registry.Until(s.now())
		if !ok || wait > maxIdle {
			wait = maxIdle
		}
		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}
	}
}

// Tick dispatches every task due now.
func (s *Scheduler) Tick(ctx context.Context) {
	claimed, skipped := s.registry.Claim(s.now())
	for _, name := range skipped {
		s.logger.Warn().Str("task", name).Msg("previous execution still running, firing skipped")
	}
	for _, d := range claimed {
		s.dispatch(ctx, d)
	}
}

// Trigger runs a task immediately, outside its schedule.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	d, err := s.registry.ClaimNow(name, s.now())
	if err != nil {
		return err
	}
	s.dispatch(ctx, d)
	return nil
}

// Wait blocks until every dispatched execution has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, d Dispatch) {
	if d.NextRunAt != nil && s.status != nil {
		if err := s.status.SetNextRun(ctx, d.Name, *d.NextRunAt); err != nil {
			s.logger.Warn().Err(err).Str("task", d.Name).Msg("failed to store next run")
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.registry.Release(d.Name)

		s.logger.Info().Str("task", d.Name).Time("fired_at", d.FiredAt).Msg("task fired")
		if _, err := s.exec.Execute(ctx, d.Name, d.Fn); err != nil {
			s.logger.Error().Err(err).Str("task", d.Name).Msg("task execution failed")
		}
	}()
}

func (s *Scheduler) publishNextRuns(ctx context.Context) {
	if s.status == nil {
		return
	}
	for _, name := range s.registry.Names() {
		st, _ := s.registry.State(name)
		if st.NextRunAt == nil {
			continue
		}
		if err := s.status.SetNextRun(ctx, name, *st.NextRunAt); err != nil {
			s.logger.Warn().Err(err).Str("task", name).Msg("failed to store next run")
		}
	}
}
