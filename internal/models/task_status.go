package models

import "time"

// SyncTaskInfo is the short-lived status record of one recurring task.
type SyncTaskInfo struct {
	TaskName         string     `json:"task_name"`
	Status           string     `json:"status"`
	LastRun          *time.Time `json:"last_run"`
	LastSuccess      *time.Time `json:"last_success"`
	NextRun          *time.Time `json:"next_run"`
	Progress         *float64   `json:"progress"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsTotal     *int       `json:"records_total"`
	Message          string     `json:"message"`
	Error            *string    `json:"error"`
}

// DefaultTaskInfo is returned for tasks that have not reported yet.
func DefaultTaskInfo(task string) *SyncTaskInfo {
	return &SyncTaskInfo{
		TaskName: task,
		Status:   TaskStatusIdle,
		Message:  "awaiting first run",
	}
}

// TaskHandle identifies an on-demand run.
type TaskHandle struct {
	ID         string    `json:"id"`
	TaskName   string    `json:"task_name"`
	TargetCode string    `json:"target_code"`
	CreatedAt  time.Time `json:"created_at"`
}
