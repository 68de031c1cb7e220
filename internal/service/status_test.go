package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketsync/internal/models"
	"marketsync/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStatusRepository struct {
	mock.Mock
}

func (m *MockStatusRepository) GetStatus(ctx context.Context, task string) (*models.SyncTaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncTaskInfo), args.Error(1)
}

func (m *MockStatusRepository) SetStatus(ctx context.Context, info *models.SyncTaskInfo) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

func (m *MockStatusRepository) ListStatuses(ctx context.Context) ([]*models.SyncTaskInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SyncTaskInfo), args.Error(1)
}

func newStatusStore() *TaskStatusStore {
	logger := zerolog.Nop()
	return NewTaskStatusStore(repository.NewMemoryStatusRepository(24*time.Hour), &logger)
}

func intPtr(v int) *int { return &v }

func TestTaskStatusStore_DefaultRecord(t *testing.T) {
	s := newStatusStore()

	info, err := s.Get(context.Background(), "daily")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusIdle, info.Status)
	assert.Equal(t, "awaiting first run", info.Message)
	assert.Nil(t, info.Progress)
}

func TestTaskStatusStore_Lifecycle(t *testing.T) {
	s := newStatusStore()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "daily", intPtr(3), ""))
	info, err := s.Get(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, info.Status)
	require.NotNil(t, info.LastRun)
	assert.Equal(t, 0.0, *info.Progress)

	require.NoError(t, s.UpdateProgress(ctx, "daily", 1, nil, "1/3"))
	info, _ = s.Get(ctx, "daily")
	assert.Equal(t, 33.3, *info.Progress)
	assert.Equal(t, 1, info.RecordsProcessed)
	assert.Equal(t, "1/3", info.Message)

	require.NoError(t, s.UpdateProgress(ctx, "daily", 2, nil, ""))
	info, _ = s.Get(ctx, "daily")
	assert.Equal(t, 66.7, *info.Progress)

	next := time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC)
	require.NoError(t, s.Complete(ctx, "daily", "", &next))
	info, _ = s.Get(ctx, "daily")
	assert.Equal(t, models.TaskStatusCompleted, info.Status)
	assert.Equal(t, 100.0, *info.Progress)
	require.NotNil(t, info.LastSuccess)
	assert.Equal(t, next, *info.NextRun)
	assert.Nil(t, info.Error)
}

func TestTaskStatusStore_Fail(t *testing.T) {
	s := newStatusStore()
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, "weekly", nil, ""))
	require.NoError(t, s.Fail(ctx, "weekly", errors.New("upstream down"), ""))

	info, err := s.Get(ctx, "weekly")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, info.Status)
	require.NotNil(t, info.Error)
	assert.Equal(t, "upstream down", *info.Error)
	assert.Nil(t, info.LastSuccess)
}

func TestTaskStatusStore_SetNextRunKeepsStatus(t *testing.T) {
	s := newStatusStore()
	ctx := context.Background()

	next := time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC)
	require.NoError(t, s.SetNextRun(ctx, "intraday", next))

	info, err := s.Get(ctx, "intraday")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusIdle, info.Status)
	assert.Equal(t, next, *info.NextRun)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTaskStatusStore_RepositoryError(t *testing.T) {
	repo := new(MockStatusRepository)
	logger := zerolog.Nop()
	s := NewTaskStatusStore(repo, &logger)
	ctx := context.Background()

	repo.On("GetStatus", ctx, "daily").Return(nil, errors.New("redis down")).Once()
	_, err := s.Get(ctx, "daily")
	assert.Error(t, err)

	repo.On("GetStatus", ctx, "daily").Return(nil, nil).Once()
	repo.On("SetStatus", ctx, mock.MatchedBy(func(info *models.SyncTaskInfo) bool {
		return info.TaskName == "daily" && info.Status == models.TaskStatusRunning
	})).Return(errors.New("redis down")).Once()
	assert.Error(t, s.Start(ctx, "daily", nil, ""))
	repo.AssertExpectations(t)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0.0, Progress(0, 0))
	assert.Equal(t, 50.0, Progress(1, 2))
	assert.Equal(t, 33.3, Progress(1, 3))
	assert.Equal(t, 100.0, Progress(7, 7))
}
