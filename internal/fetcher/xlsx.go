package fetcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// XLSXFetcher reads bars from a workbook holding one sheet per target code.
// Row 1 is a header; columns are trade_date, open, high, low, close,
// pre_close, volume, amount, pct_change.
type XLSXFetcher struct {
	path   string
	logger *zerolog.Logger
}

func NewXLSXFetcher(path string, logger *zerolog.Logger) *XLSXFetcher {
	return &XLSXFetcher{path: path, logger: logger}
}

func (f *XLSXFetcher) Fetch(ctx context.Context, target string, since time.Time) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wb, err := excelize.OpenFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", f.path, err)
	}
	defer wb.Close()

	if idx, err := wb.GetSheetIndex(target); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %s: %w", target, ErrNotFound)
	}

	rows, err := wb.GetRows(target)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", target, err)
	}

	var bars []models.Bar
	for i, row := range rows {
		if i == 0 || len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		b, err := parseRow(target, row)
		if err != nil {
			return nil, fmt.Errorf("sheet %s row %d: %w", target, i+1, err)
		}
		if b.TradeDate.Before(since) {
			continue
		}
		bars = append(bars, b)
	}

	f.logger.Debug().Str("target", target).Int("bars", len(bars)).Msg("read bars from workbook")
	return bars, nil
}

func parseRow(target string, row []string) (models.Bar, error) {
	date, err := time.Parse(models.DateLayout, strings.TrimSpace(row[0]))
	if err != nil {
		return models.Bar{}, fmt.Errorf("bad trade date %q: %w", row[0], err)
	}

	values := make([]float64, 8)
	for i := range values {
		col := i + 1
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("column %d: %w", col+1, err)
		}
		values[i] = v
	}

	return models.Bar{
		TargetCode: target,
		TradeDate:  date,
		Open:       values[0],
		High:       values[1],
		Low:        values[2],
		Close:      values[3],
		PreClose:   values[4],
		Volume:     values[5],
		Amount:     values[6],
		PctChange:  values[7],
	}, nil
}
