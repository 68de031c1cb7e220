package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/models"
)

var ErrTargetNotFound = errors.New("target not found")

var targetColumns = []string{
	"code", "name", "category", "industry", "is_active", "list_date", "delist_date", "updated_at",
}

// UpsertTargets seeds or refreshes the target universe.
func (db *DB) UpsertTargets(ctx context.Context, targets []models.Target) (int64, error) {
	now := db.now()
	rows := make([][]any, 0, len(targets))
	for _, t := range targets {
		rows = append(rows, []any{
			t.Code,
			t.Name,
			t.Category,
			nullString(t.Industry),
			t.IsActive,
			nullDate(t.ListDate),
			nullDate(t.DelistDate),
			now,
		})
	}
	return db.UpsertMany(ctx, "targets", targetColumns, rows, []string{"code"}, nil)
}

// ActiveTargets returns the codes of the active universe of a category.
func (db *DB) ActiveTargets(ctx context.Context, category string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT code FROM targets WHERE category = ? AND is_active = 1 ORDER BY code`, category)
	if err != nil {
		return nil, fmt.Errorf("query active %s targets: %w", category, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (db *DB) GetTarget(ctx context.Context, code string) (*models.Target, error) {
	query := `
        SELECT code, name, category, industry, is_active, list_date, delist_date, updated_at
        FROM targets WHERE code = ?`

	var (
		t                    models.Target
		industry             sql.NullString
		listDate, delistDate sql.NullString
	)
	err := db.QueryRowContext(ctx, query, code).Scan(
		&t.Code, &t.Name, &t.Category, &industry, &t.IsActive, &listDate, &delistDate, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target %s: %w", code, err)
	}

	if industry.Valid {
		t.Industry = &industry.String
	}
	if t.ListDate, err = parseNullDate(listDate); err != nil {
		return nil, err
	}
	if t.DelistDate, err = parseNullDate(delistDate); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetTargetActive flips the active flag of a target.
func (db *DB) SetTargetActive(ctx context.Context, code string, active bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE targets SET is_active = ?, updated_at = ? WHERE code = ?`, active, db.now(), code)
	if err != nil {
		return fmt.Errorf("update target %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTargetNotFound
	}
	return nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(models.DateLayout)
}
