package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"marketsync/internal/config"
)

// Tier is the cadence class of a task.
type Tier string

const (
	TierWeekly   Tier = "L0"
	TierDaily    Tier = "L1"
	TierIntraday Tier = "L2"
	TierOnDemand Tier = "L3"
)

// Schedule is the cadence policy of one task. Clock is the time of day as
// an offset from local midnight.
type Schedule struct {
	Tier     Tier
	Weekday  time.Weekday
	Clock    time.Duration
	Interval time.Duration
	Offset   time.Duration
}

func (s Schedule) Validate() error {
	switch s.Tier {
	case TierWeekly, TierDaily:
		if s.Clock < 0 || s.Clock >= 24*time.Hour {
			return fmt.Errorf("time of day %s out of range", s.Clock)
		}
	case TierIntraday:
		if s.Interval <= 0 {
			return errors.New("intraday interval must be > 0")
		}
		if s.Offset < 0 {
			return errors.New("intraday offset must be >= 0")
		}
	case TierOnDemand:
	default:
		return fmt.Errorf("unknown tier %q", s.Tier)
	}
	return nil
}

// ScheduleFromConfig maps one configured task onto its schedule. Every L1
// task fires at the shared daily time.
func ScheduleFromConfig(cfg config.SchedulerConfig, task config.TaskConfig) (Schedule, error) {
	s := Schedule{Tier: Tier(strings.ToUpper(task.Tier))}

	switch s.Tier {
	case TierWeekly:
		day, err := config.ParseWeekday(task.Weekday)
		if err != nil {
			return s, err
		}
		clock, err := config.ParseClock(task.Time)
		if err != nil {
			return s, err
		}
		s.Weekday, s.Clock = day, clock
	case TierDaily:
		clock, err := config.ParseClock(cfg.DailyTime)
		if err != nil {
			return s, err
		}
		s.Clock = clock
	case TierIntraday:
		s.Interval = time.Duration(task.IntervalSeconds) * time.Second
		s.Offset = time.Duration(task.OffsetMultiplier*cfg.OffsetUnitSeconds) * time.Second
	}
	return s, s.Validate()
}

// First returns the first firing at or after start, or the zero time for
// on-demand tasks.
func (s Schedule) First(start time.Time, loc *time.Location) time.Time {
	switch s.Tier {
	case TierWeekly:
		return nextWeekly(start, s.Weekday, s.Clock, loc, true)
	case TierDaily:
		return nextDaily(start, s.Clock, loc, true)
	case TierIntraday:
		return start.Add(s.Offset)
	default:
		return time.Time{}
	}
}

// Next returns the firing after the one scheduled at prev that is also
// after now. Intraday firings keep their phase; missed ones are skipped.
func (s Schedule) Next(prev, now time.Time, loc *time.Location) time.Time {
	switch s.Tier {
	case TierWeekly:
		return nextWeekly(laterOf(prev, now), s.Weekday, s.Clock, loc, false)
	case TierDaily:
		return nextDaily(laterOf(prev, now), s.Clock, loc, false)
	case TierIntraday:
		next := prev.Add(s.Interval)
		if !next.After(now) {
			missed := now.Sub(next)/s.Interval + 1
			next = next.Add(missed * s.Interval)
		}
		return next
	default:
		return time.Time{}
	}
}

func nextDaily(from time.Time, clock time.Duration, loc *time.Location, inclusive bool) time.Time {
	local := from.In(loc)
	candidate := atClock(local, clock, loc)
	if candidate.Before(local) || (!inclusive && candidate.Equal(local)) {
		candidate = atClock(local.AddDate(0, 0, 1), clock, loc)
	}
	return candidate
}

func nextWeekly(from time.Time, day time.Weekday, clock time.Duration, loc *time.Location, inclusive bool) time.Time {
	local := from.In(loc)
	ahead := (int(day) - int(local.Weekday()) + 7) % 7
	candidate := atClock(local.AddDate(0, 0, ahead), clock, loc)
	if candidate.Before(local) || (!inclusive && candidate.Equal(local)) {
		candidate = atClock(local.AddDate(0, 0, ahead+7), clock, loc)
	}
	return candidate
}

// atClock is day's local midnight plus clock, resolved through the wall
// clock so DST days keep their configured time.
func atClock(day time.Time, clock time.Duration, loc *time.Location) time.Time {
	h := int(clock / time.Hour)
	m := int(clock % time.Hour / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc)
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
