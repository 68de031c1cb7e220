package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const ledgerTimeout = 10 * time.Second

// TargetFunc processes one target and returns the number of records written.
type TargetFunc func(ctx context.Context, target string) (int, error)

// ProgressFunc is called after each target settles.
type ProgressFunc func(done, total int)

// BatchSummary is the outcome of one batch. Success + Failed == Total.
type BatchSummary struct {
	Task      string            `json:"task"`
	Total     int               `json:"total"`
	Success   int               `json:"success"`
	Failed    int               `json:"failed"`
	Records   int               `json:"records"`
	Succeeded []string          `json:"succeeded,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Executor runs a per-target operation over a batch with bounded
// concurrency. A failing target never affects its siblings.
type Executor struct {
	ledger        domain.ErrorLedger
	maxConcurrent int
	logger        *zerolog.Logger
}

func NewExecutor(ledger domain.ErrorLedger, maxConcurrent int, logger *zerolog.Logger) *Executor {
	return &Executor{
		ledger:        ledger,
		maxConcurrent: max(maxConcurrent, 1),
		logger:        logger,
	}
}

// Run applies op to every target. Failures are written to the ledger as
// they happen; open lineages of the targets that succeeded are resolved
// once the whole batch has settled. Targets not started before ctx ends
// count as failed without a ledger entry.
func (e *Executor) Run(ctx context.Context, task string, targets []string, op TargetFunc, progress ProgressFunc) *BatchSummary {
	summary := &BatchSummary{
		Task:   task,
		Total:  len(targets),
		Errors: make(map[string]string),
	}
	if len(targets) == 0 {
		return summary
	}

	var (
		sem  = semaphore.NewWeighted(int64(e.maxConcurrent))
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)

	settle := func(target string, records int, err error) {
		mu.Lock()
		defer mu.Unlock()

		done++
		if err != nil {
			summary.Failed++
			summary.Errors[target] = err.Error()
		} else {
			summary.Success++
			summary.Records += records
			summary.Succeeded = append(summary.Succeeded, target)
		}
		if progress != nil {
			progress(done, summary.Total)
		}
	}

	for i, target := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, skipped := range targets[i:] {
				settle(skipped, 0, fmt.Errorf("not started: %w", err))
			}
			break
		}

		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			defer sem.Release(1)

			records, err := e.runOne(ctx, target, op)
			if err != nil {
				e.recordFailure(ctx, task, target, err)
			}
			settle(target, records, err)
		}(target)
	}
	wg.Wait()

	sort.Strings(summary.Succeeded)
	e.resolve(ctx, task, summary.Succeeded)

	metrics.ObserveBatch(task, summary.Success, summary.Failed, summary.Records)
	e.logger.Info().
		Str("task", task).
		Int("total", summary.Total).
		Int("success", summary.Success).
		Int("failed", summary.Failed).
		Int("records", summary.Records).
		Msg("batch finished")

	return summary
}

func (e *Executor) runOne(ctx context.Context, target string, op TargetFunc) (records int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", target, r)
		}
	}()
	return op(ctx, target)
}

// Ledger writes outlive ctx so a timed-out batch still leaves its trail.
// Within one task execution a target is written at most once.
func (e *Executor) recordFailure(ctx context.Context, task, target string, cause error) {
	if !claimFailure(ctx, task, target) {
		e.logger.Debug().Err(cause).Str("task", task).Str("target", target).Msg("failure already recorded for this execution")
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	errType := Classify(cause)
	rec, err := e.ledger.RecordFailure(lctx, task, target, errType, cause.Error())
	if err != nil {
		e.logger.Error().Err(err).Str("task", task).Str("target", target).Msg("failed to record sync error")
		return
	}
	e.logger.Warn().
		Err(cause).
		Str("task", task).
		Str("target", target).
		Str("error_type", errType).
		Int("retry_count", rec.RetryCount).
		Msg("target failed")
}

func (e *Executor) resolve(ctx context.Context, task string, succeeded []string) {
	if len(succeeded) == 0 {
		return
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	n, err := e.ledger.Resolve(lctx, task, succeeded)
	if err != nil {
		e.logger.Error().Err(err).Str("task", task).Msg("failed to resolve sync errors")
		return
	}
	if n > 0 {
		e.logger.Info().Str("task", task).Int64("resolved", n).Msg("resolved sync errors")
	}
}
