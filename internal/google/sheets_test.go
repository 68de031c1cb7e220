package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *ReportSheet) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newReportSheet(srv, "report_tid", "health")
}

func sampleReport() *models.HealthReport {
	return &models.HealthReport{
		RunAt:     time.Date(2024, 3, 6, 18, 0, 0, 0, time.UTC),
		TradeDate: time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Results: []models.HealthCheckResult{
			{MetricName: "coverage_stock", Status: models.HealthWarning, Value: 0.9, Threshold: 0.98, Message: "90/100",
				Details: map[string]any{"targets": []string{"B", "A"}}},
			{MetricName: "freshness", Status: models.HealthHealthy, Value: 0, Threshold: 0},
		},
	}
}

func TestReportRowValues(t *testing.T) {
	rows := reportRowValues(sampleReport())
	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{
		"2024-03-06 18:00:00", "2024-03-06", "coverage_stock", "warning", 0.9, 0.98, "90/100", "A,B",
	}, rows[0])
	assert.Equal(t, "", rows[1][7])
}

func TestDetailTargets(t *testing.T) {
	assert.Equal(t, "", detailTargets(nil))
	assert.Equal(t, "X,Y", detailTargets(map[string]any{"targets": []any{"Y", "X"}}))
	assert.Equal(t, "3", detailTargets(map[string]any{"targets": 3}))
}

func TestReportSheet_AppendReport(t *testing.T) {
	mux, s := setupMockServer(t)

	var got sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/report_tid/values/health!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	})

	require.NoError(t, s.Archive(context.Background(), sampleReport()))
	assert.Len(t, got.Values, 2)
}

func TestReportSheet_EnsureHeader(t *testing.T) {
	mux, s := setupMockServer(t)

	written := false
	mux.HandleFunc("/v4/spreadsheets/report_tid/values/health!A1:H1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			written = true
			_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
			return
		}
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{})
	})

	require.NoError(t, s.EnsureHeader(context.Background()))
	assert.True(t, written)
}

func TestReportSheet_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/report_tid/values/health!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Run At"}}})
	})
	assert.NoError(t, s.TestConnection(context.Background()))
}
