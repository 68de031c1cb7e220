package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"marketsync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const timestampLayout = "2006-01-02 15:04:05"

var reportHeader = []interface{}{"Run At", "Trade Date", "Metric", "Status", "Value", "Threshold", "Message", "Targets"}

// ReportSheet appends health reports to one sheet of a spreadsheet, one
// row per check result.
type ReportSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewReportSheet(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*ReportSheet, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newReportSheet(srv, spreadsheetID, sheetName), nil
}

func newReportSheet(srv *sheets.Service, spreadsheetID, sheetName string) *ReportSheet {
	return &ReportSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}
}

// TestConnection проверяет подключение к таблице
func (s *ReportSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// GetServiceAccountEmail возвращает email сервисного аккаунта
func GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// EnsureHeader writes the column titles when the sheet is still empty.
func (s *ReportSheet) EnsureHeader(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1:H1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1:H1", &sheets.ValueRange{
		Values: [][]interface{}{reportHeader},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// AppendReport adds the rows of report below the existing data.
func (s *ReportSheet) AppendReport(ctx context.Context, report *models.HealthReport) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}
	rows := reportRowValues(report)
	if len(rows) == 0 {
		return nil
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:A", &sheets.ValueRange{
		Values: rows,
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append report rows: %w", err)
	}
	return nil
}

// Archive implements domain.ReportArchiver.
func (s *ReportSheet) Archive(ctx context.Context, report *models.HealthReport) error {
	return s.AppendReport(ctx, report)
}

func reportRowValues(report *models.HealthReport) [][]interface{} {
	runAt := report.RunAt.Format(timestampLayout)
	tradeDate := report.TradeDate.Format(models.DateLayout)

	rows := make([][]interface{}, 0, len(report.Results))
	for _, r := range report.Results {
		rows = append(rows, []interface{}{
			runAt,
			tradeDate,
			r.MetricName,
			r.Status,
			r.Value,
			r.Threshold,
			r.Message,
			detailTargets(r.Details),
		})
	}
	return rows
}

func detailTargets(details map[string]any) string {
	raw, ok := details["targets"]
	if !ok {
		return ""
	}
	var targets []string
	switch v := raw.(type) {
	case []string:
		targets = append(targets, v...)
	case []any:
		for _, t := range v {
			targets = append(targets, fmt.Sprint(t))
		}
	default:
		return fmt.Sprint(v)
	}
	sort.Strings(targets)
	return strings.Join(targets, ",")
}
