package worker

import (
	"context"
	"fmt"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/fetcher"
	"marketsync/internal/models"
)

// Syncer brings one target up to date: it reads the newest stored trade
// date, takes a rate-limit slot and fetches everything after it.
type Syncer struct {
	store        domain.BarStore
	fetcher      fetcher.Fetcher
	limiter      domain.RateLimiter
	backfillDays int
	now          func() time.Time
}

func NewSyncer(store domain.BarStore, f fetcher.Fetcher, limiter domain.RateLimiter, backfillDays int) *Syncer {
	return &Syncer{
		store:        store,
		fetcher:      f,
		limiter:      limiter,
		backfillDays: max(backfillDays, 1),
		now:          time.Now,
	}
}

// Sync is a TargetFunc.
func (s *Syncer) Sync(ctx context.Context, target string) (int, error) {
	today := models.Truncate(s.now())

	latest, err := s.store.LatestTradeDate(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	since := today.AddDate(0, 0, -s.backfillDays)
	if latest != nil {
		since = latest.AddDate(0, 0, 1)
	}
	if since.After(today) {
		return 0, nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return 0, err
	}

	bars, err := s.fetcher.Fetch(ctx, target, since)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	n, err := s.store.UpsertBars(ctx, bars)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return int(n), nil
}

// Refetch re-downloads the bars of target from date on, overwriting what
// is stored. It fails when the upstream still has no bar for date.
func (s *Syncer) Refetch(ctx context.Context, target string, date time.Time) (int, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return 0, err
	}
	bars, err := s.fetcher.Fetch(ctx, target, date)
	if err != nil {
		return 0, err
	}

	var n int64
	if len(bars) > 0 {
		if n, err = s.store.UpsertBars(ctx, bars); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	key := date.Format(models.DateLayout)
	for _, b := range bars {
		if b.DateKey() == key {
			return int(n), nil
		}
	}
	return int(n), fmt.Errorf("refetch %s on %s: %w", target, key, fetcher.ErrNotFound)
}
