package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marketsync/internal/models"
)

// Rules a stored bar can violate.
const (
	RuleNonPositive = "non_positive_price"
	RuleHighLow     = "high_below_low"
	RuleOutOfRange  = "open_close_out_of_range"
)

var violationQueries = []struct {
	rule  string
	where string
}{
	{RuleNonPositive, `(open <= 0 OR high <= 0 OR low <= 0 OR close <= 0 OR volume < 0)`},
	{RuleHighLow, `high < low`},
	{RuleOutOfRange, `(open > high OR open < low OR close > high OR close < low)`},
}

// InvalidBars returns the violations among bars stored for date.
func (db *DB) InvalidBars(ctx context.Context, date time.Time) ([]models.BarViolation, error) {
	day := date.Format(models.DateLayout)

	var out []models.BarViolation
	for _, q := range violationQueries {
		set, err := db.codeSet(ctx,
			`SELECT target_code FROM daily_bars WHERE trade_date = ? AND `+q.where, day)
		if err != nil {
			return nil, fmt.Errorf("check %s on %s: %w", q.rule, day, err)
		}
		for _, code := range sortedKeys(set) {
			out = append(out, models.BarViolation{TargetCode: code, Rule: q.rule})
		}
	}
	return out, nil
}

// LeakedTargets returns targets holding a bar on date although they are not
// part of the active universe on that date.
func (db *DB) LeakedTargets(ctx context.Context, date time.Time) ([]string, error) {
	day := date.Format(models.DateLayout)
	query := `
        SELECT DISTINCT b.target_code
        FROM daily_bars b
        JOIN targets t ON t.code = b.target_code
        WHERE b.trade_date = ?
          AND (t.is_active = 0
               OR (t.delist_date IS NOT NULL AND t.delist_date <= b.trade_date)
               OR (t.list_date IS NOT NULL AND t.list_date > b.trade_date))`

	set, err := db.codeSet(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("leakage check on %s: %w", day, err)
	}
	return sortedKeys(set), nil
}

// MetadataCompleteness counts active targets and those with an industry set.
func (db *DB) MetadataCompleteness(ctx context.Context) (withIndustry, total int, err error) {
	query := `
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN industry IS NOT NULL AND TRIM(industry) <> '' THEN 1 ELSE 0 END), 0)
        FROM targets WHERE is_active = 1`

	if err := db.QueryRowContext(ctx, query).Scan(&total, &withIndustry); err != nil {
		return 0, 0, fmt.Errorf("metadata completeness: %w", err)
	}
	return withIndustry, total, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
