package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStatusRepository serves from primary until it errors, then from
// fallback, probing primary again once per recoveryInterval.
type FailoverStatusRepository struct {
	primary  domain.StatusRepository
	fallback domain.StatusRepository
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverStatusRepository(primary, fallback domain.StatusRepository, logger *zerolog.Logger) *FailoverStatusRepository {
	return &FailoverStatusRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverStatusRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary status repository failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

// usePrimary reports whether primary should be tried for this call.
func (r *FailoverStatusRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCheck) > recoveryInterval
}

func (r *FailoverStatusRepository) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary status repository recovered")
	}
}

func (r *FailoverStatusRepository) GetStatus(ctx context.Context, task string) (*models.SyncTaskInfo, error) {
	if r.usePrimary() {
		info, err := r.primary.GetStatus(ctx, task)
		if err == nil {
			r.recovered()
			return info, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetStatus(ctx, task)
}

func (r *FailoverStatusRepository) SetStatus(ctx context.Context, info *models.SyncTaskInfo) error {
	if r.usePrimary() {
		err := r.primary.SetStatus(ctx, info)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetStatus(ctx, info)
}

func (r *FailoverStatusRepository) ListStatuses(ctx context.Context) ([]*models.SyncTaskInfo, error) {
	if r.usePrimary() {
		list, err := r.primary.ListStatuses(ctx)
		if err == nil {
			r.recovered()
			return list, nil
		}
		r.markDown(err)
	}
	return r.fallback.ListStatuses(ctx)
}
