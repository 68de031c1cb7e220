package models

import "time"

// SyncError is one ledger row for a failing (TaskName, TargetCode) pair.
// ResolvedAt == nil means the lineage is still open.
type SyncError struct {
	ID           int64      `json:"id"`
	TaskName     string     `json:"task_name"`
	TargetCode   string     `json:"target_code"`
	ErrorType    string     `json:"error_type"`
	ErrorMessage string     `json:"error_message"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastRetryAt  time.Time  `json:"last_retry_at"`
	ResolvedAt   *time.Time `json:"resolved_at"`
}

// Failures returns how many times the pair failed in this lineage.
func (e SyncError) Failures() int {
	return e.RetryCount + 1
}

// SyncErrorStats aggregates ledger rows.
type SyncErrorStats struct {
	Total          int     `json:"total"`
	Unresolved     int     `json:"unresolved"`
	Resolved       int     `json:"resolved"`
	ResolutionRate float64 `json:"resolution_rate"`
}
