package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// maxParams keeps IN (...) lists well below SQLite's bound variable limit.
const maxParams = 500

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var ErrInvalidIdentifier = errors.New("invalid sql identifier")

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
	now    func() time.Time
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection serializes upserts
	// and keeps ":memory:" databases on one handle.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{
		DB:     sqlDB,
		path:   path,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS targets (
            code TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL,
            industry TEXT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            list_date TEXT,
            delist_date TEXT,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS daily_bars (
            target_code TEXT NOT NULL,
            trade_date TEXT NOT NULL,
            open REAL NOT NULL,
            high REAL NOT NULL,
            low REAL NOT NULL,
            close REAL NOT NULL,
            pre_close REAL NOT NULL DEFAULT 0,
            volume REAL NOT NULL DEFAULT 0,
            amount REAL NOT NULL DEFAULT 0,
            pct_change REAL NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (target_code, trade_date)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_errors (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_name TEXT NOT NULL,
            target_code TEXT NOT NULL,
            error_type TEXT NOT NULL,
            error_message TEXT NOT NULL DEFAULT '',
            retry_count INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            last_retry_at DATETIME NOT NULL,
            resolved_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_targets_category ON targets(category, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_bars_trade_date ON daily_bars(trade_date)`,
		// at most one open lineage per (task, target)
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_sync_errors_open
            ON sync_errors(task_name, target_code) WHERE resolved_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_sync_errors_target ON sync_errors(target_code, resolved_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// UpsertMany inserts rows into table, overwriting the update columns of any
// row that collides on the conflict key. When update is empty every
// non-key column is overwritten. Returns the number of rows written.
func (db *DB) UpsertMany(ctx context.Context, table string, columns []string, rows [][]any, conflict, update []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query, err := buildUpsert(table, columns, conflict, update)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert into %s: %w", table, err)
	}
	defer stmt.Close()

	var written int64
	for _, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("upsert into %s: row has %d values, want %d", table, len(row), len(columns))
		}
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, fmt.Errorf("upsert into %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert into %s: %w", table, err)
	}
	return written, nil
}

func buildUpsert(table string, columns, conflict, update []string) (string, error) {
	if len(columns) == 0 || len(conflict) == 0 {
		return "", fmt.Errorf("upsert into %s: columns and conflict key are required", table)
	}
	for _, ident := range append(append(append([]string{table}, columns...), conflict...), update...) {
		if !identRe.MatchString(ident) {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, ident)
		}
	}

	if len(update) == 0 {
		key := make(map[string]bool, len(conflict))
		for _, c := range conflict {
			key[c] = true
		}
		for _, c := range columns {
			if !key[c] {
				update = append(update, c)
			}
		}
	}

	sets := make([]string, 0, len(update))
	for _, c := range update {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
		table,
		strings.Join(columns, ", "),
		placeholders(len(columns)),
		strings.Join(conflict, ", "),
		action,
	), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// chunk splits values into slices of at most size elements.
func chunk(values []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		out = append(out, values[start:end])
	}
	return out
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
