package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"marketsync/internal/database"
	"marketsync/internal/models"
	"marketsync/internal/repository"
	"marketsync/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct {
	runs atomic.Int32
}

func (h *fakeHealth) Run(context.Context) *models.HealthReport {
	h.runs.Add(1)
	return &models.HealthReport{
		Results: []models.HealthCheckResult{
			{MetricName: "coverage_stock", Status: models.HealthHealthy, Value: 1},
			{MetricName: "freshness", Status: models.HealthCritical},
		},
		Critical: []models.HealthCheckResult{{MetricName: "freshness", Status: models.HealthCritical}},
	}
}

type fakeTrigger struct{ fired []string }

func (f *fakeTrigger) Trigger(_ context.Context, name string) error {
	if name == "missing" {
		return errors.New("unknown task")
	}
	f.fired = append(f.fired, name)
	return nil
}

type testEnv struct {
	svc     *SyncService
	db      *database.DB
	status  *TaskStatusStore
	health  *fakeHealth
	trigger *fakeTrigger
}

func newTestEnv(t *testing.T, op worker.TargetFunc, rps float64, burst int) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "svc.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.UpsertTargets(context.Background(), []models.Target{
		{Code: "600000", Name: "PF Bank", Category: models.CategoryStock, IsActive: true},
		{Code: "510300", Name: "CSI 300 ETF", Category: models.CategoryETF, IsActive: true},
	})
	require.NoError(t, err)

	status := NewTaskStatusStore(repository.NewMemoryStatusRepository(time.Hour), &logger)
	policy := worker.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	runner := worker.NewRunner(status, nil, policy, time.Minute, &logger)
	env := &testEnv{db: db, status: status, health: &fakeHealth{}, trigger: &fakeTrigger{}}
	env.svc = NewSyncService(context.Background(), SyncServiceDeps{
		Status:  status,
		Runner:  runner,
		Batch:   worker.NewExecutor(db, 2, &logger),
		Sync:    op,
		Health:  env.health,
		Store:   db,
		Trigger: env.trigger,
	}, rps, burst, &logger)
	return env
}

func TestSyncService_TriggerOnDemand(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, func(_ context.Context, target string) (int, error) {
		calls.Add(1)
		return 3, nil
	}, 10, 5)
	ctx := context.Background()

	handle, err := env.svc.TriggerOnDemand(ctx, " 600000 ")
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, "600000", handle.TargetCode)
	assert.Equal(t, "on_demand:600000", handle.TaskName)

	env.svc.Wait()
	assert.EqualValues(t, 1, calls.Load())

	info, err := env.svc.GetTaskStatus(ctx, handle.TaskName)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, info.Status)
	assert.Contains(t, info.Message, "records 3")

	all, err := env.svc.GetAllTaskStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSyncService_TriggerOnDemandFailureIsRecordedOnce(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, func(context.Context, string) (int, error) {
		calls.Add(1)
		return 0, errors.New("upstream 503")
	}, 10, 5)
	ctx := context.Background()

	handle, err := env.svc.TriggerOnDemand(ctx, "510300")
	require.NoError(t, err)
	env.svc.Wait()

	// a per-target failure is not retried as a whole execution
	assert.EqualValues(t, 1, calls.Load())

	info, err := env.svc.GetTaskStatus(ctx, handle.TaskName)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, info.Status)
	require.NotNil(t, info.Error)
	assert.Contains(t, *info.Error, "upstream 503")

	errs, err := env.svc.ListErrors(ctx, models.TaskOnDemand, nil)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "510300", errs[0].TargetCode)
	assert.Equal(t, 0, errs[0].RetryCount)

	stubborn, err := env.db.Stubborn(ctx, []string{"510300"}, models.StubbornFailures, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stubborn)

	stats, err := env.svc.ErrorStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unresolved)
}

func TestSyncService_TriggerOnDemandValidation(t *testing.T) {
	env := newTestEnv(t, func(context.Context, string) (int, error) { return 0, nil }, 0.001, 1)
	ctx := context.Background()

	_, err := env.svc.TriggerOnDemand(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidTarget)
	_, err = env.svc.TriggerOnDemand(ctx, "999999")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = env.svc.TriggerOnDemand(ctx, "600000")
	require.NoError(t, err)
	_, err = env.svc.TriggerOnDemand(ctx, "600000")
	assert.ErrorIs(t, err, ErrThrottled)
	env.svc.Wait()
}

func TestSyncService_RunHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil, 1, 1)
	ctx := context.Background()

	results, err := env.svc.RunHealthCheck(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.EqualValues(t, 1, env.health.runs.Load())

	info, err := env.svc.GetTaskStatus(ctx, models.TaskHealthCheck)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, info.Status)
	assert.Contains(t, info.Message, "1 critical")
}

func TestSyncService_RunTask(t *testing.T) {
	env := newTestEnv(t, nil, 1, 1)
	require.NoError(t, env.svc.RunTask(context.Background(), "weekly_reference"))
	assert.Equal(t, []string{"weekly_reference"}, env.trigger.fired)
	assert.Error(t, env.svc.RunTask(context.Background(), "missing"))
}
