package domain

import (
	"context"
	"time"

	"marketsync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BarStore is the storage a per-target sync operation writes to.
type BarStore interface {
	UpsertBars(ctx context.Context, bars []models.Bar) (int64, error)
	LatestTradeDate(ctx context.Context, target string) (*time.Time, error)
}

// ErrorLedger keeps one open failure lineage per (task, target).
type ErrorLedger interface {
	RecordFailure(ctx context.Context, task, target, errType, msg string) (*models.SyncError, error)
	Resolve(ctx context.Context, task string, targets []string) (int64, error)
}

// DiagnosticStore is everything the health doctor reads or purges.
type DiagnosticStore interface {
	ActiveTargets(ctx context.Context, category string) ([]string, error)
	TargetsWithBars(ctx context.Context, category string, date time.Time) (map[string]bool, error)
	InvalidBars(ctx context.Context, date time.Time) ([]models.BarViolation, error)
	LeakedTargets(ctx context.Context, date time.Time) ([]string, error)
	LatestStoredDate(ctx context.Context) (*time.Time, error)
	MetadataCompleteness(ctx context.Context) (withIndustry, total int, err error)
	DeleteBars(ctx context.Context, date time.Time, targets []string) (int64, error)
	Stubborn(ctx context.Context, targets []string, minFailures int, since time.Time) ([]models.SyncError, error)
}

// StatusRepository persists task status records with expiry.
type StatusRepository interface {
	GetStatus(ctx context.Context, task string) (*models.SyncTaskInfo, error)
	SetStatus(ctx context.Context, info *models.SyncTaskInfo) error
	ListStatuses(ctx context.Context) ([]*models.SyncTaskInfo, error)
}

// StatusTracker is the task lifecycle view over a StatusRepository.
type StatusTracker interface {
	Start(ctx context.Context, task string, total *int, message string) error
	UpdateProgress(ctx context.Context, task string, processed int, total *int, message string) error
	Complete(ctx context.Context, task, message string, nextRun *time.Time) error
	Fail(ctx context.Context, task string, err error, message string) error
	SetNextRun(ctx context.Context, task string, next time.Time) error
	Get(ctx context.Context, task string) (*models.SyncTaskInfo, error)
}

// RateLimiter admits one unit of upstream work per Acquire.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ReportArchiver keeps a copy of every health report.
type ReportArchiver interface {
	Archive(ctx context.Context, report *models.HealthReport) error
}

// Alerter delivers an escalated health report to operators.
type Alerter interface {
	Send(ctx context.Context, report *models.HealthReport) error
}
