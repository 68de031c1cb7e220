package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	resultsSheet = "Results"
	summarySheet = "Summary"
)

var statusFill = map[string]string{
	models.HealthHealthy:  "#E2EFDA",
	models.HealthWarning:  "#FFF2CC",
	models.HealthCritical: "#F8CBAD",
}

// WorkbookArchiver writes every health report to its own xlsx file.
type WorkbookArchiver struct {
	dir    string
	logger *zerolog.Logger
}

func NewWorkbookArchiver(dir string, logger *zerolog.Logger) *WorkbookArchiver {
	return &WorkbookArchiver{dir: dir, logger: logger}
}

// Archive implements domain.ReportArchiver.
func (a *WorkbookArchiver) Archive(_ context.Context, report *models.HealthReport) error {
	_, err := a.Write(report)
	return err
}

// Write saves report as health_<trade date>_<run time>.xlsx and returns the path.
func (a *WorkbookArchiver) Write(report *models.HealthReport) (string, error) {
	if report == nil {
		return "", fmt.Errorf("report is nil")
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(resultsSheet); err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	writeSummary(f, report)
	if err := writeResults(f, report.Results); err != nil {
		return "", err
	}

	fileName := fmt.Sprintf("health_%s_%s.xlsx",
		report.TradeDate.Format(models.DateLayout),
		report.RunAt.UTC().Format("150405"))
	filePath := filepath.Join(a.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	a.logger.Info().Str("file_path", filePath).Msg("Health report exported")
	return filePath, nil
}

func writeSummary(f *excelize.File, report *models.HealthReport) {
	critical := make([]string, 0, len(report.Critical))
	for _, r := range report.Critical {
		critical = append(critical, r.MetricName)
	}

	rows := [][2]interface{}{
		{"Run At", report.RunAt.UTC().Format("2006-01-02 15:04:05")},
		{"Trade Date", report.TradeDate.Format(models.DateLayout)},
		{"Critical", strings.Join(critical, ", ")},
		{"Stubborn", strings.Join(report.Stubborn, ", ")},
		{"Repair Dispatched", report.Dispatched},
		{"Purged Bars", report.Purged},
	}
	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	for i, row := range rows {
		key, _ := excelize.CoordinatesToCellName(1, i+1)
		val, _ := excelize.CoordinatesToCellName(2, i+1)
		_ = f.SetCellValue(summarySheet, key, row[0])
		_ = f.SetCellValue(summarySheet, val, row[1])
		_ = f.SetCellStyle(summarySheet, key, key, bold)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	_ = f.SetColWidth(summarySheet, "B", "B", 60)
}

func writeResults(f *excelize.File, results []models.HealthCheckResult) error {
	header := []interface{}{"Metric", "Status", "Value", "Threshold", "Message", "Targets"}
	if err := f.SetSheetRow(resultsSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	_ = f.SetCellStyle(resultsSheet, "A1", "F1", headerStyle)

	styles := make(map[string]int)
	for status, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err == nil {
			styles[status] = id
		}
	}

	for i, r := range results {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{r.MetricName, r.Status, r.Value, r.Threshold, r.Message, targetList(r.Details)}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return fmt.Errorf("write result %s: %w", r.MetricName, err)
		}
		if id, ok := styles[r.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(2, i+2)
			_ = f.SetCellStyle(resultsSheet, statusCell, statusCell, id)
		}
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 24)
	_ = f.SetColWidth(resultsSheet, "E", "E", 60)
	_ = f.SetColWidth(resultsSheet, "F", "F", 40)
	return nil
}

func targetList(details map[string]any) string {
	switch v := details["targets"].(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(v, ",")
	case []any:
		// reports queued through redis come back from JSON this way
		parts := make([]string, 0, len(v))
		for _, t := range v {
			parts = append(parts, fmt.Sprint(t))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}
