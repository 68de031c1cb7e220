package models

import "time"

// Target is a tradable instrument of one of the tracked universes.
type Target struct {
	Code       string     `json:"code" yaml:"code"`
	Name       string     `json:"name" yaml:"name"`
	Category   string     `json:"category" yaml:"category"`
	Industry   *string    `json:"industry,omitempty" yaml:"industry"`
	IsActive   bool       `json:"is_active" yaml:"is_active"`
	ListDate   *time.Time `json:"list_date,omitempty" yaml:"list_date"`
	DelistDate *time.Time `json:"delist_date,omitempty" yaml:"delist_date"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"-"`
}
