package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketsync/internal/models"
)

var barColumns = []string{
	"target_code", "trade_date", "open", "high", "low", "close",
	"pre_close", "volume", "amount", "pct_change", "updated_at",
}

// UpsertBars stores bars keyed by (target_code, trade_date). Replaying the
// same bars leaves a single row per key carrying the latest values.
func (db *DB) UpsertBars(ctx context.Context, bars []models.Bar) (int64, error) {
	now := db.now()
	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []any{
			b.TargetCode,
			b.DateKey(),
			b.Open,
			b.High,
			b.Low,
			b.Close,
			b.PreClose,
			b.Volume,
			b.Amount,
			b.PctChange,
			now,
		})
	}
	return db.UpsertMany(ctx, "daily_bars", barColumns, rows, []string{"target_code", "trade_date"}, nil)
}

// LatestTradeDate returns the newest stored trade date of a target, or nil
// when nothing is stored yet.
func (db *DB) LatestTradeDate(ctx context.Context, target string) (*time.Time, error) {
	var raw sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT MAX(trade_date) FROM daily_bars WHERE target_code = ?`, target,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("latest trade date of %s: %w", target, err)
	}
	return parseNullDate(raw)
}

// LatestStoredDate returns the newest trade date stored for any target.
func (db *DB) LatestStoredDate(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT MAX(trade_date) FROM daily_bars`).Scan(&raw); err != nil {
		return nil, fmt.Errorf("latest stored date: %w", err)
	}
	return parseNullDate(raw)
}

// GetBars returns the bars of a target in [from, to], oldest first.
func (db *DB) GetBars(ctx context.Context, target string, from, to time.Time) ([]models.Bar, error) {
	query := `
        SELECT target_code, trade_date, open, high, low, close,
               pre_close, volume, amount, pct_change, updated_at
        FROM daily_bars
        WHERE target_code = ? AND trade_date BETWEEN ? AND ?
        ORDER BY trade_date`

	rows, err := db.QueryContext(ctx, query, target, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("query bars of %s: %w", target, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var (
			b    models.Bar
			date string
		)
		if err := rows.Scan(&b.TargetCode, &date, &b.Open, &b.High, &b.Low, &b.Close,
			&b.PreClose, &b.Volume, &b.Amount, &b.PctChange, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if b.TradeDate, err = time.Parse(models.DateLayout, date); err != nil {
			return nil, fmt.Errorf("bad trade date %q: %w", date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// TargetsWithBars returns the codes of category targets holding a bar on date.
func (db *DB) TargetsWithBars(ctx context.Context, category string, date time.Time) (map[string]bool, error) {
	query := `
        SELECT b.target_code
        FROM daily_bars b
        JOIN targets t ON t.code = b.target_code
        WHERE b.trade_date = ? AND t.category = ?`

	return db.codeSet(ctx, query, date.Format(models.DateLayout), category)
}

// DeleteBars removes the bars of targets on date only.
func (db *DB) DeleteBars(ctx context.Context, date time.Time, targets []string) (int64, error) {
	var deleted int64
	for _, part := range chunk(targets, maxParams) {
		args := append([]any{date.Format(models.DateLayout)}, stringArgs(part)...)
		res, err := db.ExecContext(ctx,
			`DELETE FROM daily_bars WHERE trade_date = ? AND target_code IN (`+placeholders(len(part))+`)`,
			args...,
		)
		if err != nil {
			return deleted, fmt.Errorf("delete bars on %s: %w", date.Format(models.DateLayout), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

func (db *DB) codeSet(ctx context.Context, query string, args ...any) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		set[code] = true
	}
	return set, rows.Err()
}

func parseNullDate(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, raw.String)
	if err != nil {
		return nil, fmt.Errorf("bad trade date %q: %w", raw.String, err)
	}
	return &t, nil
}
