package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketsync/internal/models"
)

type memoryEntry struct {
	info      models.SyncTaskInfo
	expiresAt time.Time
}

// MemoryStatusRepository is the in-process fallback with the same expiry
// semantics as the Redis store.
type MemoryStatusRepository struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStatusRepository(ttl time.Duration) *MemoryStatusRepository {
	return &MemoryStatusRepository{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *MemoryStatusRepository) GetStatus(_ context.Context, task string) (*models.SyncTaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[task]
	if !ok {
		return nil, nil
	}
	if !r.now().Before(entry.expiresAt) {
		delete(r.entries, task)
		return nil, nil
	}
	info := entry.info
	return &info, nil
}

func (r *MemoryStatusRepository) SetStatus(_ context.Context, info *models.SyncTaskInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[info.TaskName] = memoryEntry{
		info:      *info,
		expiresAt: r.now().Add(r.ttl),
	}
	return nil
}

func (r *MemoryStatusRepository) ListStatuses(_ context.Context) ([]*models.SyncTaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]*models.SyncTaskInfo, 0, len(r.entries))
	for task, entry := range r.entries {
		if !now.Before(entry.expiresAt) {
			delete(r.entries, task)
			continue
		}
		info := entry.info
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskName < out[j].TaskName })
	return out, nil
}
