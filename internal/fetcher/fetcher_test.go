package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func day(s string) time.Time {
	t, _ := time.Parse(models.DateLayout, s)
	return t
}

func TestNew(t *testing.T) {
	logger := zerolog.Nop()

	f, err := New(config.FetcherConfig{Provider: "HTTP", BaseURL: "http://x"}, &logger)
	require.NoError(t, err)
	assert.IsType(t, &HTTPFetcher{}, f)

	f, err = New(config.FetcherConfig{Provider: "xlsx", XLSXPath: "bars.xlsx"}, &logger)
	require.NoError(t, err)
	assert.IsType(t, &XLSXFetcher{}, f)

	_, err = New(config.FetcherConfig{Provider: "http"}, &logger)
	assert.Error(t, err)

	_, err = New(config.FetcherConfig{Provider: "ftp"}, &logger)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bars", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("since"))

		switch r.URL.Query().Get("code") {
		case "LIMIT":
			w.WriteHeader(http.StatusTooManyRequests)
		case "GONE":
			w.WriteHeader(http.StatusNotFound)
		case "BROKEN":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"code":"600000","bars":[
				{"trade_date":"2024-02-29","open":1,"high":1,"low":1,"close":1},
				{"trade_date":"2024-03-01","open":10,"high":11,"low":9,"close":10.5,"volume":100},
				{"trade_date":"2024-03-04","open":10.5,"high":11,"low":10,"close":10.8,"volume":120}
			]}`))
		}
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	f := NewHTTPFetcher(srv.URL+"/", "secret", time.Second, &logger)
	ctx := context.Background()

	bars, err := f.Fetch(ctx, "600000", day("2024-03-01"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "600000", bars[0].TargetCode)
	assert.Equal(t, day("2024-03-04"), bars[1].TradeDate)
	assert.Equal(t, 10.8, bars[1].Close)

	_, err = f.Fetch(ctx, "LIMIT", day("2024-03-01"))
	assert.True(t, errors.Is(err, ErrRateLimited))

	_, err = f.Fetch(ctx, "GONE", day("2024-03-01"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.Fetch(ctx, "BROKEN", day("2024-03-01"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPFetcher_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	logger := zerolog.Nop()
	f := NewHTTPFetcher(srv.URL, "", 5*time.Second, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, "600000", day("2024-03-01"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func writeWorkbook(t *testing.T) string {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	_, err := wb.NewSheet("600000")
	require.NoError(t, err)
	rows := [][]any{
		{"trade_date", "open", "high", "low", "close", "pre_close", "volume", "amount", "pct_change"},
		{"2024-02-29", 9.8, 10, 9.5, 10, 9.7, 90, 900, 3.1},
		{"2024-03-01", 10, 11, 9, 10.5, 10, 100, 1000, 5},
		{"2024-03-04", 10.5, 11, 10, 10.8, 10.5, 120, 1300, 2.86},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow("600000", cell, &row))
	}

	path := filepath.Join(t.TempDir(), "bars.xlsx")
	require.NoError(t, wb.SaveAs(path))
	return path
}

func TestXLSXFetcher_Fetch(t *testing.T) {
	logger := zerolog.Nop()
	f := NewXLSXFetcher(writeWorkbook(t), &logger)
	ctx := context.Background()

	bars, err := f.Fetch(ctx, "600000", day("2024-03-01"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, day("2024-03-01"), bars[0].TradeDate)
	assert.Equal(t, 10.5, bars[0].Close)
	assert.Equal(t, 1300.0, bars[1].Amount)

	_, err = f.Fetch(ctx, "000001", day("2024-03-01"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseRow(t *testing.T) {
	b, err := parseRow("A", []string{"2024-03-01", "10", "11", "9"})
	require.NoError(t, err)
	assert.Equal(t, 9.0, b.Low)
	assert.Zero(t, b.Close)

	_, err = parseRow("A", []string{"03/01/2024", "10"})
	assert.Error(t, err)

	_, err = parseRow("A", []string{"2024-03-01", "ten"})
	assert.Error(t, err)
}
