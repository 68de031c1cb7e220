package models

import "time"

// HealthCheckResult is the outcome of one diagnostic metric in a doctor run.
type HealthCheckResult struct {
	MetricName string         `json:"metric_name"`
	Status     string         `json:"status"`
	Value      float64        `json:"value"`
	Threshold  float64        `json:"threshold"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

// HealthReport is the escalation payload sent to the alert channel.
type HealthReport struct {
	RunAt      time.Time           `json:"run_at"`
	TradeDate  time.Time           `json:"trade_date"`
	Stubborn   []string            `json:"stubborn"`
	Dispatched int                 `json:"dispatched"`
	Purged     int64               `json:"purged"`
	Critical   []HealthCheckResult `json:"critical"`
	Results    []HealthCheckResult `json:"results"`
}

// BarViolation is one stored bar failing a consistency rule.
type BarViolation struct {
	TargetCode string `json:"target_code"`
	Rule       string `json:"rule"`
}
