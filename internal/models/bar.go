package models

import "time"

// Bar is one daily OHLCV record keyed by (TargetCode, TradeDate).
type Bar struct {
	TargetCode string    `json:"target_code"`
	TradeDate  time.Time `json:"trade_date"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	PreClose   float64   `json:"pre_close"`
	Volume     float64   `json:"volume"`
	Amount     float64   `json:"amount"`
	PctChange  float64   `json:"pct_change"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DateKey returns the trade date in storage format.
func (b Bar) DateKey() string {
	return b.TradeDate.Format(DateLayout)
}

// Truncate drops the clock part of t, keeping its calendar day in UTC.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
