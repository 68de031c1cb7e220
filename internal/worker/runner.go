package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/events"
	"marketsync/internal/metrics"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

// TaskFunc is one execution of a named task. A nil error with per-target
// failures in the summary is still a successful execution.
type TaskFunc func(ctx context.Context) (*BatchSummary, error)

// Runner wraps task executions with a time limit, retries with backoff and
// status/lifecycle reporting.
type Runner struct {
	status  domain.StatusTracker
	bus     domain.EventPublisher
	policy  RetryPolicy
	timeout time.Duration
	logger  *zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

func NewRunner(status domain.StatusTracker, bus domain.EventPublisher, policy RetryPolicy, timeout time.Duration, logger *zerolog.Logger) *Runner {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 3
	}
	return &Runner{
		status:  status,
		bus:     bus,
		policy:  policy,
		timeout: timeout,
		logger:  logger,
		sleep:   sleepCtx,
		rand:    rand.Float64,
	}
}

// Execute runs fn until it succeeds or attempts run out. A target that
// fails on several attempts is written to the ledger once.
func (r *Runner) Execute(ctx context.Context, task string, fn TaskFunc) (*BatchSummary, error) {
	ctx = withExecution(ctx)
	started := time.Now()
	if err := r.status.Start(ctx, task, nil, ""); err != nil {
		r.logger.Warn().Err(err).Str("task", task).Msg("failed to mark task started")
	}
	r.publish(events.EventTaskStarted, events.TaskEventPayload{Task: task, At: started})

	var (
		summary *BatchSummary
		lastErr error
	)
	for attempt := 1; attempt <= r.policy.MaxRetries; attempt++ {
		summary, lastErr = r.attempt(ctx, fn)
		if lastErr == nil {
			r.complete(ctx, task, summary, started)
			return summary, nil
		}
		if ctx.Err() != nil {
			break
		}

		r.logger.Warn().Err(lastErr).Str("task", task).Int("attempt", attempt).Msg("task attempt failed")
		if attempt == r.policy.MaxRetries {
			break
		}
		if err := r.sleep(ctx, r.policy.JitteredDelay(attempt, r.rand())); err != nil {
			break
		}
	}

	r.fail(ctx, task, lastErr, started)
	return summary, lastErr
}

func (r *Runner) attempt(ctx context.Context, fn TaskFunc) (summary *BatchSummary, err error) {
	actx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return fn(actx)
}

func (r *Runner) complete(ctx context.Context, task string, summary *BatchSummary, started time.Time) {
	took := time.Since(started)
	msg := "completed"
	payload := events.TaskEventPayload{Task: task, DurationMS: took.Milliseconds(), At: time.Now()}
	if summary != nil {
		msg = fmt.Sprintf("success %d, failed %d, records %d", summary.Success, summary.Failed, summary.Records)
		payload.Success = summary.Success
		payload.Failed = summary.Failed
		payload.Records = summary.Records
	}

	sctx := context.WithoutCancel(ctx)
	if err := r.status.Complete(sctx, task, msg, nil); err != nil {
		r.logger.Warn().Err(err).Str("task", task).Msg("failed to mark task completed")
	}
	metrics.ObserveTask(task, models.TaskStatusCompleted, took)
	r.publish(events.EventTaskCompleted, payload)
	r.logger.Info().Str("task", task).Dur("took", took).Msg(msg)
}

func (r *Runner) fail(ctx context.Context, task string, cause error, started time.Time) {
	took := time.Since(started)
	if cause == nil {
		cause = errors.New("task did not run")
	}

	sctx := context.WithoutCancel(ctx)
	if err := r.status.Fail(sctx, task, cause, ""); err != nil {
		r.logger.Warn().Err(err).Str("task", task).Msg("failed to mark task failed")
	}
	metrics.ObserveTask(task, models.TaskStatusFailed, took)
	r.publish(events.EventTaskFailed, events.TaskEventPayload{
		Task:       task,
		Error:      cause.Error(),
		DurationMS: took.Milliseconds(),
		At:         time.Now(),
	})
	r.logger.Error().Err(cause).Str("task", task).Dur("took", took).Msg("task failed")
}

func (r *Runner) publish(eventType string, payload any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.PublishJSON(eventType, payload); err != nil {
		r.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
