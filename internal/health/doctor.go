// Package health runs the daily data-quality loop: it diagnoses the newest
// expected trading day, separates persistently failing targets from the
// ones worth retrying, purges leaked rows, dispatches repairs and escalates
// what automation could not fix.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/domain"
	"marketsync/internal/events"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/worker"

	"github.com/rs/zerolog"
)

// Metric names reported by a run.
const (
	MetricCoveragePrefix = "coverage_"
	MetricLogic          = "logic_consistency"
	MetricLeakage        = "leakage"
	MetricStubborn       = "stubborn_targets"
	MetricFreshness      = "freshness"
	MetricMetadata       = "metadata_completeness"
	MetricPurge          = "purge"
	MetricRepair         = "auto_repair"
)

// BatchRunner is the executor repairs are dispatched to.
type BatchRunner interface {
	Run(ctx context.Context, task string, targets []string, op worker.TargetFunc, progress worker.ProgressFunc) *worker.BatchSummary
}

// Repairer re-syncs one target. Refetch overwrites a stored day.
type Repairer interface {
	Sync(ctx context.Context, target string) (int, error)
	Refetch(ctx context.Context, target string, date time.Time) (int, error)
}

// TradingCalendar knows which day's data should be stored by now.
type TradingCalendar interface {
	LatestExpected(before time.Time) time.Time
	Previous(day time.Time) time.Time
}

type Doctor struct {
	store    domain.DiagnosticStore
	exec     BatchRunner
	repairer Repairer
	calendar TradingCalendar
	alerter  domain.Alerter
	archiver domain.ReportArchiver
	bus      domain.EventPublisher
	cfg      config.HealthConfig
	logger   *zerolog.Logger

	now func() time.Time

	repairCtx    context.Context
	repairCancel context.CancelFunc
	repairs      sync.WaitGroup
}

type Option func(*Doctor)

// WithClock sets the clock runs are evaluated at. Its location decides the
// calendar day being diagnosed.
func WithClock(now func() time.Time) Option {
	return func(d *Doctor) { d.now = now }
}

func WithArchiver(a domain.ReportArchiver) Option {
	return func(d *Doctor) { d.archiver = a }
}

func WithEvents(bus domain.EventPublisher) Option {
	return func(d *Doctor) { d.bus = bus }
}

func NewDoctor(
	store domain.DiagnosticStore,
	exec BatchRunner,
	repairer Repairer,
	cal TradingCalendar,
	alerter domain.Alerter,
	cfg config.HealthConfig,
	logger *zerolog.Logger,
	opts ...Option,
) *Doctor {
	if cfg.RepairChunkSize <= 0 {
		cfg.RepairChunkSize = models.DefaultRepairChunkSize
	}
	if cfg.StubbornFailures <= 0 {
		cfg.StubbornFailures = models.StubbornFailures
	}
	if cfg.StubbornWindowHours <= 0 {
		cfg.StubbornWindowHours = models.StubbornWindow / 3600
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{models.CategoryStock, models.CategoryETF}
	}

	repairCtx, cancel := context.WithCancel(context.Background())
	d := &Doctor{
		store:        store,
		exec:         exec,
		repairer:     repairer,
		calendar:     cal,
		alerter:      alerter,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		repairCtx:    repairCtx,
		repairCancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// run is the per-invocation state. Nothing survives between runs.
type run struct {
	date      time.Time
	missing   map[string]bool
	corrupted map[string]bool
	leaked    []string
	stubborn  []string
	results   []models.HealthCheckResult

	coverageCritical  bool
	freshnessCritical bool
}

// Run executes every stage once, in order, and returns the report. A stage
// that fails is reported as a critical result and the run moves on.
func (d *Doctor) Run(ctx context.Context) *models.HealthReport {
	started := d.now()
	r := &run{
		date:      d.calendar.LatestExpected(started),
		missing:   make(map[string]bool),
		corrupted: make(map[string]bool),
	}
	report := &models.HealthReport{RunAt: started, TradeDate: r.date}

	log := d.logger.With().Str("trade_date", r.date.Format(models.DateLayout)).Logger()
	log.Info().Msg("health check started")

	d.stage(r, "coverage", func() error { return d.checkCoverage(ctx, r) })
	d.stage(r, "logic", func() error { return d.checkLogic(ctx, r) })
	d.stage(r, "attribution", func() error { return d.attribute(ctx, r, started) })
	d.stage(r, MetricFreshness, func() error { return d.checkFreshness(ctx, r, started) })
	d.stage(r, MetricMetadata, func() error { return d.checkMetadata(ctx, r) })
	d.stage(r, MetricPurge, func() error {
		n, err := d.purge(ctx, r)
		report.Purged = n
		return err
	})
	d.stage(r, MetricRepair, func() error {
		report.Dispatched = d.dispatchRepairs(r)
		return nil
	})

	report.Stubborn = r.stubborn
	report.Results = r.results
	for _, res := range r.results {
		metrics.SetHealth(res.MetricName, res.Status)
		if res.Status == models.HealthCritical {
			report.Critical = append(report.Critical, res)
		}
	}
	metrics.SetStubborn(len(r.stubborn))

	if d.shouldAlert(r) {
		d.alert(ctx, report)
	} else {
		log.Info().Int("critical", len(report.Critical)).Msg("nothing to escalate")
	}
	d.archive(ctx, report)

	log.Info().
		Int("results", len(report.Results)).
		Int("stubborn", len(report.Stubborn)).
		Int("dispatched", report.Dispatched).
		Int64("purged", report.Purged).
		Dur("took", d.now().Sub(started)).
		Msg("health check finished")
	return report
}

// Task adapts Run to the scheduler: healthy results count as successes.
// A finished run is never an error, so the task runner does not repeat
// its repairs and alerts; stage failures are already critical results.
func (d *Doctor) Task() worker.TaskFunc {
	return func(ctx context.Context) (*worker.BatchSummary, error) {
		report := d.Run(ctx)
		summary := &worker.BatchSummary{Task: models.TaskHealthCheck, Total: len(report.Results)}
		for _, res := range report.Results {
			if res.Status == models.HealthHealthy {
				summary.Success++
			} else {
				summary.Failed++
			}
		}
		return summary, nil
	}
}

// Wait blocks until every dispatched repair batch has finished.
func (d *Doctor) Wait() {
	d.repairs.Wait()
}

// Shutdown cancels outstanding repairs and waits for them.
func (d *Doctor) Shutdown() {
	d.repairCancel()
	d.repairs.Wait()
}

func (d *Doctor) stage(r *run, name string, fn func() error) {
	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	d.logger.Error().Err(err).Str("stage", name).Msg("health stage failed")
	r.results = append(r.results, models.HealthCheckResult{
		MetricName: name,
		Status:     models.HealthCritical,
		Message:    fmt.Sprintf("stage %s failed: %v", name, err),
	})
	switch name {
	case "coverage":
		r.coverageCritical = true
	case MetricFreshness:
		r.freshnessCritical = true
	}
}

func (d *Doctor) shouldAlert(r *run) bool {
	return len(r.stubborn) > 0 || r.freshnessCritical || r.coverageCritical
}

func (d *Doctor) alert(ctx context.Context, report *models.HealthReport) {
	critical := make([]string, 0, len(report.Critical))
	for _, res := range report.Critical {
		critical = append(critical, res.MetricName)
	}
	d.publish(events.EventHealthAlert, events.HealthEventPayload{
		TradeDate:  report.TradeDate.Format(models.DateLayout),
		Critical:   critical,
		Stubborn:   report.Stubborn,
		Dispatched: report.Dispatched,
	})

	if d.alerter == nil {
		return
	}
	if err := d.alerter.Send(ctx, report); err != nil {
		d.logger.Error().Err(err).Msg("failed to send health alert")
	}
}

func (d *Doctor) archive(ctx context.Context, report *models.HealthReport) {
	if d.archiver == nil {
		return
	}
	if err := d.archiver.Archive(ctx, report); err != nil {
		d.logger.Warn().Err(err).Msg("failed to archive health report")
	}
}

func (d *Doctor) publish(eventType string, payload any) {
	if d.bus == nil {
		return
	}
	if err := d.bus.PublishJSON(eventType, payload); err != nil {
		d.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
