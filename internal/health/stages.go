package health

import (
	"context"
	"fmt"
	"time"

	"marketsync/internal/events"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
)

// maxLagScan bounds the trading-day walk of the freshness check.
const maxLagScan = 366

func (d *Doctor) checkCoverage(ctx context.Context, r *run) error {
	for _, category := range d.cfg.Categories {
		active, err := d.store.ActiveTargets(ctx, category)
		if err != nil {
			return err
		}
		present, err := d.store.TargetsWithBars(ctx, category, r.date)
		if err != nil {
			return err
		}

		var missing []string
		for _, code := range active {
			if !present[code] {
				missing = append(missing, code)
				r.missing[code] = true
			}
		}

		res := models.HealthCheckResult{
			MetricName: MetricCoveragePrefix + category,
			Threshold:  d.cfg.CoverageWarning,
		}
		if len(active) == 0 {
			res.Status = models.HealthWarning
			res.Message = fmt.Sprintf("no active %s targets", category)
			r.results = append(r.results, res)
			continue
		}

		covered := len(active) - len(missing)
		res.Value = float64(covered) / float64(len(active))
		res.Status = classify(res.Value, d.cfg.CoverageCritical, d.cfg.CoverageWarning)
		res.Message = fmt.Sprintf("%d/%d %s targets have data for %s",
			covered, len(active), category, r.date.Format(models.DateLayout))
		if len(missing) > 0 {
			res.Details = map[string]any{"targets": missing}
		}
		if res.Status == models.HealthCritical {
			res.Threshold = d.cfg.CoverageCritical
			r.coverageCritical = true
		}
		r.results = append(r.results, res)
	}
	return nil
}

// classify maps a ratio onto critical < crit <= warning < warn <= healthy.
func classify(value, crit, warn float64) string {
	switch {
	case value < crit:
		return models.HealthCritical
	case value < warn:
		return models.HealthWarning
	default:
		return models.HealthHealthy
	}
}

func (d *Doctor) checkLogic(ctx context.Context, r *run) error {
	violations, err := d.store.InvalidBars(ctx, r.date)
	if err != nil {
		return err
	}
	leaked, err := d.store.LeakedTargets(ctx, r.date)
	if err != nil {
		return err
	}
	r.leaked = leaked

	isLeaked := make(map[string]bool, len(leaked))
	for _, code := range leaked {
		isLeaked[code] = true
	}

	rules := make(map[string][]string)
	for _, v := range violations {
		rules[v.Rule] = append(rules[v.Rule], v.TargetCode)
		// no point re-fetching a target that should hold no data
		if !isLeaked[v.TargetCode] {
			r.corrupted[v.TargetCode] = true
		}
	}

	logic := models.HealthCheckResult{
		MetricName: MetricLogic,
		Status:     models.HealthHealthy,
		Value:      float64(len(r.corrupted)),
		Message:    "all bars pass consistency checks",
	}
	if len(violations) > 0 {
		logic.Status = models.HealthWarning
		logic.Message = fmt.Sprintf("%d bar(s) violate consistency rules", len(violations))
		logic.Details = map[string]any{"targets": sortedSet(r.corrupted), "rules": rules}
	}

	leakage := models.HealthCheckResult{
		MetricName: MetricLeakage,
		Status:     models.HealthHealthy,
		Value:      float64(len(leaked)),
		Message:    "no bars stored for inactive targets",
	}
	if len(leaked) > 0 {
		leakage.Status = models.HealthWarning
		leakage.Message = fmt.Sprintf("%d inactive target(s) hold bars", len(leaked))
		leakage.Details = map[string]any{"targets": leaked}
	}

	r.results = append(r.results, logic, leakage)
	return nil
}

// attribute pulls targets whose failures crossed the threshold within the
// window out of the repair sets.
func (d *Doctor) attribute(ctx context.Context, r *run, now time.Time) error {
	candidates := make(map[string]bool, len(r.missing)+len(r.corrupted))
	for code := range r.missing {
		candidates[code] = true
	}
	for code := range r.corrupted {
		candidates[code] = true
	}

	res := models.HealthCheckResult{
		MetricName: MetricStubborn,
		Status:     models.HealthHealthy,
		Threshold:  float64(d.cfg.StubbornFailures),
		Message:    "no persistently failing targets",
	}
	if len(candidates) == 0 {
		r.results = append(r.results, res)
		return nil
	}

	since := now.Add(-time.Duration(d.cfg.StubbornWindowHours) * time.Hour)
	rows, err := d.store.Stubborn(ctx, sortedSet(candidates), d.cfg.StubbornFailures, since)
	if err != nil {
		return err
	}

	stubborn := make(map[string]bool)
	failures := make(map[string]map[string]any)
	for _, row := range rows {
		stubborn[row.TargetCode] = true
		failures[row.TargetCode+"/"+row.TaskName] = map[string]any{
			"failures":   row.Failures(),
			"error_type": row.ErrorType,
			"error":      row.ErrorMessage,
		}
	}
	for code := range stubborn {
		delete(r.missing, code)
		delete(r.corrupted, code)
	}
	r.stubborn = sortedSet(stubborn)

	res.Value = float64(len(r.stubborn))
	if len(r.stubborn) > 0 {
		res.Status = models.HealthCritical
		res.Message = fmt.Sprintf("%d target(s) failed at least %d times within %dh, excluded from auto-repair",
			len(r.stubborn), d.cfg.StubbornFailures, d.cfg.StubbornWindowHours)
		res.Details = map[string]any{"targets": r.stubborn, "failures": failures}
	}
	r.results = append(r.results, res)
	return nil
}

func (d *Doctor) checkFreshness(ctx context.Context, r *run, now time.Time) error {
	latest, err := d.store.LatestStoredDate(ctx)
	if err != nil {
		return err
	}

	res := models.HealthCheckResult{MetricName: MetricFreshness, Threshold: 1}
	if latest == nil {
		res.Status = models.HealthCritical
		res.Message = "no bars stored yet"
		r.freshnessCritical = true
		r.results = append(r.results, res)
		return nil
	}

	lag := d.tradingLag(*latest, d.calendar.LatestExpected(now))
	res.Value = float64(lag)
	res.Message = fmt.Sprintf("latest stored %s, expected %s, %d trading day(s) behind",
		latest.Format(models.DateLayout), r.date.Format(models.DateLayout), lag)
	switch {
	case lag == 0:
		res.Status = models.HealthHealthy
	case lag == 1:
		res.Status = models.HealthWarning
	default:
		res.Status = models.HealthCritical
		r.freshnessCritical = true
	}
	r.results = append(r.results, res)
	return nil
}

// tradingLag counts trading days after latest up to expected.
func (d *Doctor) tradingLag(latest, expected time.Time) int {
	latest = models.Truncate(latest)
	lag := 0
	for day := models.Truncate(expected); day.After(latest) && lag < maxLagScan; day = d.calendar.Previous(day) {
		lag++
	}
	return lag
}

func (d *Doctor) checkMetadata(ctx context.Context, r *run) error {
	withIndustry, total, err := d.store.MetadataCompleteness(ctx)
	if err != nil {
		return err
	}

	res := models.HealthCheckResult{
		MetricName: MetricMetadata,
		Threshold:  d.cfg.MetadataThreshold,
		Status:     models.HealthHealthy,
	}
	if total == 0 {
		res.Status = models.HealthWarning
		res.Message = "no active targets"
	} else {
		res.Value = float64(withIndustry) / float64(total)
		res.Message = fmt.Sprintf("%d/%d active targets have an industry", withIndustry, total)
		if res.Value < d.cfg.MetadataThreshold {
			res.Status = models.HealthWarning
		}
	}
	r.results = append(r.results, res)
	return nil
}

// purge deletes the diagnosed day's bars of leaked targets, nothing else.
func (d *Doctor) purge(ctx context.Context, r *run) (int64, error) {
	res := models.HealthCheckResult{MetricName: MetricPurge, Status: models.HealthHealthy, Message: "nothing to purge"}
	if len(r.leaked) == 0 {
		r.results = append(r.results, res)
		return 0, nil
	}

	n, err := d.store.DeleteBars(ctx, r.date, r.leaked)
	if err != nil {
		return 0, err
	}
	res.Value = float64(n)
	res.Message = fmt.Sprintf("deleted %d bar(s) of %d inactive target(s) on %s",
		n, len(r.leaked), r.date.Format(models.DateLayout))
	res.Details = map[string]any{"targets": r.leaked}
	r.results = append(r.results, res)

	d.logger.Warn().Strs("targets", r.leaked).Int64("deleted", n).Msg("purged leaked bars")
	return n, nil
}

// dispatchRepairs hands the remaining missing and corrupted targets to the
// executor in chunks and returns without waiting for them.
func (d *Doctor) dispatchRepairs(r *run) int {
	set := make(map[string]bool, len(r.missing)+len(r.corrupted))
	for code := range r.missing {
		set[code] = true
	}
	for code := range r.corrupted {
		set[code] = true
	}
	targets := sortedSet(set)

	res := models.HealthCheckResult{MetricName: MetricRepair, Status: models.HealthHealthy, Value: float64(len(targets))}
	switch {
	case len(targets) == 0:
		res.Message = "nothing to repair"
		r.results = append(r.results, res)
		return 0
	case !d.cfg.AutoRepair:
		res.Status = models.HealthWarning
		res.Message = fmt.Sprintf("auto-repair disabled, %d target(s) left as is", len(targets))
		res.Details = map[string]any{"targets": targets}
		r.results = append(r.results, res)
		return 0
	}

	date := r.date
	corrupted := r.corrupted
	op := func(ctx context.Context, target string) (int, error) {
		if corrupted[target] {
			return d.repairer.Refetch(ctx, target, date)
		}
		return d.repairer.Sync(ctx, target)
	}

	chunks := 0
	for start := 0; start < len(targets); start += d.cfg.RepairChunkSize {
		part := targets[start:min(start+d.cfg.RepairChunkSize, len(targets))]
		chunks++

		d.repairs.Add(1)
		go func() {
			defer d.repairs.Done()
			d.exec.Run(d.repairCtx, models.TaskAutoRepair, part, op, nil)
		}()
	}

	res.Message = fmt.Sprintf("dispatched %d target(s) in %d chunk(s)", len(targets), chunks)
	res.Details = map[string]any{"targets": targets}
	r.results = append(r.results, res)

	metrics.AddRepairDispatched(len(targets))
	d.publish(events.EventRepairDispatched, map[string]any{
		"trade_date": date.Format(models.DateLayout),
		"targets":    len(targets),
		"chunks":     chunks,
	})
	return len(targets)
}
