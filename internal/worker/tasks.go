package worker

import (
	"context"
	"fmt"

	"marketsync/internal/domain"
)

// UniverseFunc lists the targets a task covers.
type UniverseFunc func(ctx context.Context) ([]string, error)

// SyncTask builds the standard incremental sync over a universe, reporting
// per-target progress to status.
func SyncTask(exec *Executor, syncer *Syncer, status domain.StatusTracker, task string, universe UniverseFunc) TaskFunc {
	return func(ctx context.Context) (*BatchSummary, error) {
		targets, err := universe(ctx)
		if err != nil {
			return nil, fmt.Errorf("list targets of %s: %w", task, err)
		}

		total := len(targets)
		_ = status.UpdateProgress(ctx, task, 0, &total, fmt.Sprintf("syncing %d targets", total))

		summary := exec.Run(ctx, task, targets, syncer.Sync, func(done, total int) {
			_ = status.UpdateProgress(ctx, task, done, nil, fmt.Sprintf("%d/%d", done, total))
		})
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		return summary, nil
	}
}
