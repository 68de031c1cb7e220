package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetStatus(ctx context.Context, task string) (*models.SyncTaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncTaskInfo), args.Error(1)
}

func (m *mockRepo) SetStatus(ctx context.Context, info *models.SyncTaskInfo) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

func (m *mockRepo) ListStatuses(ctx context.Context) ([]*models.SyncTaskInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SyncTaskInfo), args.Error(1)
}

func TestFailoverStatusRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverStatusRepository(primary, fallback, &logger)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		info := &models.SyncTaskInfo{TaskName: "a"}
		primary.On("GetStatus", ctx, "a").Return(info, nil).Once()

		got, err := repo.GetStatus(ctx, "a")
		assert.NoError(t, err)
		assert.Equal(t, info, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		info := &models.SyncTaskInfo{TaskName: "b"}
		primary.On("SetStatus", ctx, info).Return(errors.New("fail")).Once()
		fallback.On("SetStatus", ctx, info).Return(nil).Once()

		assert.NoError(t, repo.SetStatus(ctx, info))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("ListStatuses", ctx).Return([]*models.SyncTaskInfo{}, nil).Once()

		_, err := repo.ListStatuses(ctx)
		assert.NoError(t, err)
		primary.AssertNotCalled(t, "ListStatuses", ctx)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		info := &models.SyncTaskInfo{TaskName: "c"}
		primary.On("GetStatus", ctx, "c").Return(info, nil).Once()

		got, err := repo.GetStatus(ctx, "c")
		assert.NoError(t, err)
		assert.Equal(t, info, got)
		assert.False(t, repo.isDown.Load())
	})
}
