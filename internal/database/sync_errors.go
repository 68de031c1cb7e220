package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketsync/internal/models"
)

// UnresolvedFilter narrows Unresolved. Zero values disable a filter.
type UnresolvedFilter struct {
	TaskName      string
	// MaxRetryCount bounds retry_count, which is failures minus one.
	MaxRetryCount *int
}

const syncErrorColumns = `id, task_name, target_code, error_type, error_message,
        retry_count, created_at, last_retry_at, resolved_at`

// RecordFailure opens a lineage for (task, target) or, when one is already
// open, bumps its retry_count and overwrites the error details.
func (db *DB) RecordFailure(ctx context.Context, task, target, errType, msg string) (*models.SyncError, error) {
	now := db.now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	upsert := `
        INSERT INTO sync_errors (
            task_name, target_code, error_type, error_message, retry_count, created_at, last_retry_at
        ) VALUES (?, ?, ?, ?, 0, ?, ?)
        ON CONFLICT(task_name, target_code) WHERE resolved_at IS NULL DO UPDATE SET
            retry_count = retry_count + 1,
            error_type = excluded.error_type,
            error_message = excluded.error_message,
            last_retry_at = excluded.last_retry_at`

	if _, err := tx.ExecContext(ctx, upsert, task, target, errType, msg, now, now); err != nil {
		return nil, fmt.Errorf("record failure %s/%s: %w", task, target, err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+syncErrorColumns+` FROM sync_errors
         WHERE task_name = ? AND target_code = ? AND resolved_at IS NULL`,
		task, target,
	)
	rec, err := scanSyncError(row)
	if err != nil {
		return nil, fmt.Errorf("read back failure %s/%s: %w", task, target, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failure %s/%s: %w", task, target, err)
	}
	return rec, nil
}

// Resolve closes the open lineages of task for the given targets. Resolved
// rows are never reopened; the next failure starts a fresh lineage.
func (db *DB) Resolve(ctx context.Context, task string, targets []string) (int64, error) {
	if len(targets) == 0 {
		return 0, nil
	}
	now := db.now()

	var resolved int64
	for _, part := range chunk(targets, maxParams) {
		args := append([]any{now, task}, stringArgs(part)...)
		res, err := db.ExecContext(ctx,
			`UPDATE sync_errors SET resolved_at = ?
             WHERE task_name = ? AND resolved_at IS NULL
               AND target_code IN (`+placeholders(len(part))+`)`,
			args...,
		)
		if err != nil {
			return resolved, fmt.Errorf("resolve %s errors: %w", task, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return resolved, err
		}
		resolved += n
	}
	return resolved, nil
}

// Unresolved lists open lineages, newest failure first.
func (db *DB) Unresolved(ctx context.Context, filter UnresolvedFilter) ([]models.SyncError, error) {
	var (
		conds = []string{"resolved_at IS NULL"}
		args  []any
	)
	if filter.TaskName != "" {
		conds = append(conds, "task_name = ?")
		args = append(args, filter.TaskName)
	}
	if filter.MaxRetryCount != nil {
		conds = append(conds, "retry_count <= ?")
		args = append(args, *filter.MaxRetryCount)
	}

	query := `SELECT ` + syncErrorColumns + ` FROM sync_errors WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY last_retry_at DESC, id DESC`
	return db.querySyncErrors(ctx, query, args...)
}

// Stats aggregates the ledger, optionally for a single task.
func (db *DB) Stats(ctx context.Context, task string) (*models.SyncErrorStats, error) {
	query := `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN resolved_at IS NULL THEN 1 ELSE 0 END), 0)
        FROM sync_errors`
	var args []any
	if task != "" {
		query += ` WHERE task_name = ?`
		args = append(args, task)
	}

	var stats models.SyncErrorStats
	if err := db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Unresolved); err != nil {
		return nil, fmt.Errorf("sync error stats: %w", err)
	}
	stats.Resolved = stats.Total - stats.Unresolved
	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total)
	}
	return &stats, nil
}

// Stubborn returns open lineages among targets (all targets when nil) that
// failed at least minFailures times with the last failure at or after since.
// minFailures counts failures, retry_count + 1, not retries: a row with
// retry_count 2 has failed three times.
func (db *DB) Stubborn(ctx context.Context, targets []string, minFailures int, since time.Time) ([]models.SyncError, error) {
	base := `SELECT ` + syncErrorColumns + ` FROM sync_errors
        WHERE resolved_at IS NULL AND retry_count + 1 >= ? AND last_retry_at >= ?`

	if targets == nil {
		return db.querySyncErrors(ctx, base+` ORDER BY target_code`, minFailures, since.UTC())
	}

	var out []models.SyncError
	for _, part := range chunk(targets, maxParams) {
		args := append([]any{minFailures, since.UTC()}, stringArgs(part)...)
		rows, err := db.querySyncErrors(ctx,
			base+` AND target_code IN (`+placeholders(len(part))+`) ORDER BY target_code`, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (db *DB) querySyncErrors(ctx context.Context, query string, args ...any) ([]models.SyncError, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync errors: %w", err)
	}
	defer rows.Close()

	var out []models.SyncError
	for rows.Next() {
		rec, err := scanSyncError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSyncError(s scanner) (*models.SyncError, error) {
	var rec models.SyncError
	if err := s.Scan(
		&rec.ID,
		&rec.TaskName,
		&rec.TargetCode,
		&rec.ErrorType,
		&rec.ErrorMessage,
		&rec.RetryCount,
		&rec.CreatedAt,
		&rec.LastRetryAt,
		&rec.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
