package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketsync/internal/domain"
	"marketsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// archiveJob is one report headed for one sink.
type archiveJob struct {
	Sink    string              `json:"sink"`
	Attempt int                 `json:"attempt"`
	Report  models.HealthReport `json:"report"`
	Error   string              `json:"error,omitempty"`
}

// ArchiveWorker delivers health reports to their sinks off the doctor's
// path. Jobs go through Redis when available and an in-memory queue
// otherwise; a job that keeps failing ends in the dead-letter list.
type ArchiveWorker struct {
	sinks         map[string]domain.ReportArchiver
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan archiveJob
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	logger        *zerolog.Logger

	after func(d time.Duration, f func())
}

func NewArchiveWorker(sinks map[string]domain.ReportArchiver, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *ArchiveWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	return &ArchiveWorker{
		sinks:         sinks,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan archiveJob, 128),
		redisQueueKey: "reports:queue",
		deadLetterKey: "reports:deadletter",
		pollInterval:  2 * time.Second,
		logger:        logger,
		after: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Archive implements domain.ReportArchiver by queueing one job per sink.
func (w *ArchiveWorker) Archive(ctx context.Context, report *models.HealthReport) error {
	if report == nil {
		return errors.New("report is nil")
	}

	names := make([]string, 0, len(w.sinks))
	for name := range w.sinks {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := w.enqueue(ctx, archiveJob{Sink: name, Report: *report}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *ArchiveWorker) enqueue(ctx context.Context, job archiveJob) error {
	if w.redis != nil {
		err := w.pushRedis(ctx, w.redisQueueKey, job)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Str("sink", job.Sink).Msg("archive: redis push failed, fallback to memory queue")
	}

	select {
	case w.queue <- job:
		return nil
	default:
		return fmt.Errorf("archive queue full, report for %s dropped", job.Sink)
	}
}

// Start launches the main loop; stops when ctx is done.
func (w *ArchiveWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("archive worker started")
	defer w.logger.Info().Msg("archive worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.ProcessNext(ctx) {
			continue
		}
		if w.redis != nil {
			// BRPOP already waited
			continue
		}

		select {
		case <-ctx.Done():
			return
		case job := <-w.queue:
			w.process(ctx, job)
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessNext handles at most one queued job and reports whether it did.
func (w *ArchiveWorker) ProcessNext(ctx context.Context) bool {
	if job, ok := w.tryLocalQueue(); ok {
		w.process(ctx, job)
		return true
	}
	if job, ok := w.tryRedis(ctx); ok {
		w.process(ctx, job)
		return true
	}
	return false
}

func (w *ArchiveWorker) tryLocalQueue() (archiveJob, bool) {
	select {
	case job := <-w.queue:
		return job, true
	default:
		return archiveJob{}, false
	}
}

func (w *ArchiveWorker) tryRedis(ctx context.Context) (archiveJob, bool) {
	if w.redis == nil {
		return archiveJob{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("archive: redis BRPOP error")
		}
		return archiveJob{}, false
	}
	if len(res) != 2 {
		return archiveJob{}, false
	}

	var job archiveJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		w.logger.Error().Err(err).Msg("archive: decode redis job")
		return archiveJob{}, false
	}
	return job, true
}

func (w *ArchiveWorker) process(ctx context.Context, job archiveJob) {
	sink, ok := w.sinks[job.Sink]
	if !ok {
		job.Error = "unknown sink"
		w.pushDeadLetter(ctx, job)
		return
	}

	if err := sink.Archive(ctx, &job.Report); err != nil {
		w.retryOrFail(ctx, job, err)
		return
	}
	w.logger.Debug().Str("sink", job.Sink).Time("run_at", job.Report.RunAt).Msg("health report archived")
}

func (w *ArchiveWorker) retryOrFail(ctx context.Context, job archiveJob, cause error) {
	job.Attempt++
	job.Error = cause.Error()
	if job.Attempt >= w.retryPolicy.MaxRetries {
		w.logger.Error().Err(cause).Str("sink", job.Sink).Int("attempts", job.Attempt).Msg("archive: giving up")
		w.pushDeadLetter(ctx, job)
		return
	}

	delay := w.retryPolicy.NextDelay(job.Attempt)
	w.logger.Warn().Err(cause).Str("sink", job.Sink).Dur("retry_in", delay).Msg("archive failed, will retry")
	w.after(delay, func() {
		if err := w.enqueue(context.WithoutCancel(ctx), job); err != nil {
			w.logger.Error().Err(err).Str("sink", job.Sink).Msg("archive: requeue failed")
		}
	})
}

func (w *ArchiveWorker) pushRedis(ctx context.Context, key string, job archiveJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *ArchiveWorker) pushDeadLetter(ctx context.Context, job archiveJob) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(context.WithoutCancel(ctx), w.deadLetterKey, job); err != nil {
		w.logger.Error().Err(err).Str("sink", job.Sink).Msg("archive: deadletter push failed")
	}
}
