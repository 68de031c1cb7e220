package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(code, date string, o, h, l, c float64) models.Bar {
	return models.Bar{
		TargetCode: code,
		TradeDate:  day(date),
		Open:       o,
		High:       h,
		Low:        l,
		Close:      c,
		Volume:     1000,
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "db_test_dir")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_InMemory(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.PingContext(context.Background()))
}

func TestUpsertBars_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	bars := []models.Bar{
		bar("600000", "2024-03-01", 10, 11, 9, 10.5),
		bar("600000", "2024-03-04", 10.5, 11.5, 10, 11),
	}

	n, err := db.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	bars[1].Close = 11.2
	_, err = db.UpsertBars(ctx, bars)
	require.NoError(t, err)

	stored, err := db.GetBars(ctx, "600000", day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 11.2, stored[1].Close)
	assert.Equal(t, "2024-03-04", stored[1].DateKey())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_bars`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestLatestTradeDate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	latest, err := db.LatestTradeDate(ctx, "600000")
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = db.UpsertBars(ctx, []models.Bar{
		bar("600000", "2024-03-01", 10, 11, 9, 10.5),
		bar("600000", "2024-03-05", 10, 11, 9, 10.5),
		bar("000001", "2024-03-07", 10, 11, 9, 10.5),
	})
	require.NoError(t, err)

	latest, err = db.LatestTradeDate(ctx, "600000")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, day("2024-03-05"), *latest)

	overall, err := db.LatestStoredDate(ctx)
	require.NoError(t, err)
	require.NotNil(t, overall)
	assert.Equal(t, day("2024-03-07"), *overall)
}

func TestDeleteBars_OnlyGivenDate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertBars(ctx, []models.Bar{
		bar("A", "2024-03-01", 10, 11, 9, 10),
		bar("A", "2024-03-04", 10, 11, 9, 10),
		bar("B", "2024-03-04", 10, 11, 9, 10),
	})
	require.NoError(t, err)

	deleted, err := db.DeleteBars(ctx, day("2024-03-04"), []string{"A"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	left, err := db.GetBars(ctx, "A", day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "2024-03-01", left[0].DateKey())

	deleted, err = db.DeleteBars(ctx, day("2024-03-04"), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestUpsertMany_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertMany(ctx, "daily_bars; DROP TABLE x", []string{"a"}, [][]any{{1}}, []string{"a"}, nil)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = db.UpsertMany(ctx, "targets", []string{"code"}, [][]any{{"A", "extra"}}, []string{"code"}, nil)
	assert.Error(t, err)

	n, err := db.UpsertMany(ctx, "targets", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBuildUpsert(t *testing.T) {
	query, err := buildUpsert("t", []string{"k", "a", "b"}, []string{"k"}, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO t (k, a, b) VALUES (?, ?, ?) ON CONFLICT(k) DO UPDATE SET a = excluded.a, b = excluded.b",
		query)

	query, err = buildUpsert("t", []string{"k"}, []string{"k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t (k) VALUES (?) ON CONFLICT(k) DO NOTHING", query)

	query, err = buildUpsert("t", []string{"k", "a", "b"}, []string{"k"}, []string{"b"})
	require.NoError(t, err)
	assert.Contains(t, query, "DO UPDATE SET b = excluded.b")
	assert.NotContains(t, query, "a = excluded.a")
}

func TestChunk(t *testing.T) {
	parts := chunk([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, parts)
	assert.Empty(t, chunk(nil, 2))
}
