// Package calendar answers which days the market trades.
package calendar

import (
	"fmt"
	"time"

	"marketsync/internal/models"
)

// Calendar treats weekdays as trading days unless listed as holidays.
type Calendar struct {
	holidays map[string]bool
}

func New(holidays []string) (*Calendar, error) {
	c := &Calendar{holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		d, err := time.Parse(models.DateLayout, h)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		c.holidays[d.Format(models.DateLayout)] = true
	}
	return c, nil
}

func (c *Calendar) IsTradingDay(day time.Time) bool {
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[day.Format(models.DateLayout)]
}

// Previous returns the trading day strictly before day.
func (c *Calendar) Previous(day time.Time) time.Time {
	d := models.Truncate(day).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// LatestExpected returns the newest trading day whose data should be
// stored by before: before's own date when it is a trading day, otherwise
// the previous trading day.
func (c *Calendar) LatestExpected(before time.Time) time.Time {
	d := models.Truncate(before)
	if c.IsTradingDay(d) {
		return d
	}
	return c.Previous(d)
}
