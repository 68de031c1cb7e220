package export

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWorkbookArchiver_Write(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()
	a := NewWorkbookArchiver(filepath.Join(dir, "reports"), &logger)

	coverage := models.HealthCheckResult{
		MetricName: "coverage_stock",
		Status:     models.HealthCritical,
		Value:      0.5,
		Threshold:  0.9,
		Message:    "50/100",
		Details:    map[string]any{"targets": []string{"A", "B"}},
	}
	report := &models.HealthReport{
		RunAt:      time.Date(2024, 3, 6, 18, 0, 5, 0, time.UTC),
		TradeDate:  time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Stubborn:   []string{"B"},
		Dispatched: 1,
		Critical:   []models.HealthCheckResult{coverage},
		Results:    []models.HealthCheckResult{coverage, {MetricName: "freshness", Status: models.HealthHealthy}},
	}

	path, err := a.Write(report)
	require.NoError(t, err)
	assert.Equal(t, "health_2024-03-06_180005.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "coverage_stock", rows[1][0])
	assert.Equal(t, "critical", rows[1][1])
	assert.Equal(t, "A,B", rows[1][5])

	stubborn, err := f.GetCellValue(summarySheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "B", stubborn)

	require.NoError(t, a.Archive(context.Background(), report))
}

func TestWorkbookArchiver_NilReport(t *testing.T) {
	logger := zerolog.Nop()
	_, err := NewWorkbookArchiver(t.TempDir(), &logger).Write(nil)
	assert.Error(t, err)
}

func TestTargetList(t *testing.T) {
	assert.Equal(t, "", targetList(nil))
	assert.Equal(t, "A,B", targetList(map[string]any{"targets": []string{"A", "B"}}))

	var decoded models.HealthCheckResult
	raw, err := json.Marshal(models.HealthCheckResult{Details: map[string]any{"targets": []string{"A", "B", "C"}}})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "A,B,C", targetList(decoded.Details))
}
