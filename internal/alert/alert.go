// Package alert delivers escalated health reports to operators.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"marketsync/internal/domain"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

// maxListed caps how many targets one line of a message names.
const maxListed = 20

// LogAlerter writes reports to the log. It is the fallback when no chat
// is configured.
type LogAlerter struct {
	logger *zerolog.Logger
}

func NewLogAlerter(logger *zerolog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Send(_ context.Context, report *models.HealthReport) error {
	critical := make([]string, 0, len(report.Critical))
	for _, r := range report.Critical {
		critical = append(critical, r.MetricName)
	}
	a.logger.Error().
		Str("trade_date", report.TradeDate.Format(models.DateLayout)).
		Strs("critical", critical).
		Strs("stubborn", report.Stubborn).
		Int("dispatched", report.Dispatched).
		Msg("health alert")
	return nil
}

// Multi sends to every alerter and joins their errors.
type Multi []domain.Alerter

func (m Multi) Send(ctx context.Context, report *models.HealthReport) error {
	var errs []error
	for _, a := range m {
		if err := a.Send(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Format renders report as plain text lines, most severe first.
func Format(report *models.HealthReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Data health alert for %s\n", report.TradeDate.Format(models.DateLayout))

	if len(report.Stubborn) > 0 {
		fmt.Fprintf(&b, "\nStubborn targets (%d), excluded from auto-repair:\n%s\n",
			len(report.Stubborn), listTargets(report.Stubborn))
	}

	critical := append([]models.HealthCheckResult(nil), report.Critical...)
	sort.SliceStable(critical, func(i, j int) bool { return critical[i].MetricName < critical[j].MetricName })
	if len(critical) > 0 {
		b.WriteString("\nCritical checks:\n")
		for _, r := range critical {
			fmt.Fprintf(&b, "- %s: %s\n", r.MetricName, r.Message)
		}
	}

	fmt.Fprintf(&b, "\nRepair dispatched: %d, purged bars: %d\n", report.Dispatched, report.Purged)
	return b.String()
}

func listTargets(targets []string) string {
	if len(targets) <= maxListed {
		return strings.Join(targets, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(targets[:maxListed], ", "), len(targets)-maxListed)
}
