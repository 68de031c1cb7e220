package database

import (
	"context"
	"testing"

	"marketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func seedTargets(t *testing.T, db *DB, targets ...models.Target) {
	t.Helper()
	_, err := db.UpsertTargets(context.Background(), targets)
	require.NoError(t, err)
}

func TestTargets_UpsertAndQuery(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	listed := day("2010-01-04")
	seedTargets(t, db,
		models.Target{Code: "600000", Name: "Bank", Category: models.CategoryStock, Industry: strPtr("banks"), IsActive: true, ListDate: &listed},
		models.Target{Code: "000002", Name: "Dev", Category: models.CategoryStock, IsActive: false},
		models.Target{Code: "510300", Name: "CSI300", Category: models.CategoryETF, IsActive: true},
	)

	stocks, err := db.ActiveTargets(ctx, models.CategoryStock)
	require.NoError(t, err)
	assert.Equal(t, []string{"600000"}, stocks)

	etfs, err := db.ActiveTargets(ctx, models.CategoryETF)
	require.NoError(t, err)
	assert.Equal(t, []string{"510300"}, etfs)

	target, err := db.GetTarget(ctx, "600000")
	require.NoError(t, err)
	require.NotNil(t, target.Industry)
	assert.Equal(t, "banks", *target.Industry)
	require.NotNil(t, target.ListDate)
	assert.Equal(t, listed, *target.ListDate)
	assert.Nil(t, target.DelistDate)

	_, err = db.GetTarget(ctx, "missing")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestSetTargetActive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedTargets(t, db, models.Target{Code: "A", Category: models.CategoryStock, IsActive: true})

	require.NoError(t, db.SetTargetActive(ctx, "A", false))
	active, err := db.ActiveTargets(ctx, models.CategoryStock)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, db.SetTargetActive(ctx, "B", true), ErrTargetNotFound)
}
