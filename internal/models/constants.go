package models

// Task statuses reported by the task status store.
const (
	TaskStatusIdle      = "idle"
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Health statuses.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Target categories tracked as separate universes.
const (
	CategoryStock = "stock"
	CategoryETF   = "etf"
)

// Error types recorded in the sync error ledger.
const (
	ErrorTypeRateLimited = "rate_limited"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeNotFound    = "not_found"
	ErrorTypeUpstream    = "upstream"
	ErrorTypeStorage     = "storage"
	ErrorTypeCanceled    = "canceled"
)

// Well-known task names.
const (
	TaskAutoRepair  = "auto_repair"
	TaskOnDemand    = "on_demand"
	TaskHealthCheck = "health_check"
)

const (
	// DateLayout is the storage format of trade dates.
	DateLayout = "2006-01-02"

	// DefaultStatusTTL время жизни записи статуса задачи
	DefaultStatusTTL = 24 * 60 * 60 // 24 часа в секундах

	// StubbornFailures число неудачных попыток, после которого цель считается упорной
	StubbornFailures = 3

	// StubbornWindow окно (в секундах), в котором учитываются неудачи
	StubbornWindow = 24 * 60 * 60

	// DefaultRepairChunkSize размер пакета автопочинки
	DefaultRepairChunkSize = 50

	// DefaultMaxConcurrent ограничение параллелизма внутри одного пакета
	DefaultMaxConcurrent = 5
)
