package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketsync/internal/worker"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrUnknownTask   = errors.New("unknown task")
	ErrTaskRunning   = errors.New("task is already running")
)

// State is the schedule bookkeeping of one task. NextRunAt is nil for
// on-demand tasks and before Start.
type State struct {
	LastRunAt    *time.Time
	HasFiredOnce bool
	NextRunAt    *time.Time
	Running      bool
}

type entry struct {
	name     string
	schedule Schedule
	fn       worker.TaskFunc
	state    State
}

// Dispatch is a claimed firing handed to the execution layer.
type Dispatch struct {
	Name      string
	Fn        worker.TaskFunc
	FiredAt   time.Time
	NextRunAt *time.Time
}

// Registry holds every task the process can run, keyed by name. It is
// built once at startup and shared by the scheduler loop and the
// on-demand path.
type Registry struct {
	mu        sync.Mutex
	loc       *time.Location
	entries   map[string]*entry
	startedAt time.Time
}

func NewRegistry(loc *time.Location) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		loc:     loc,
		entries: make(map[string]*entry),
	}
}

func (r *Registry) Location() *time.Location {
	return r.loc
}

// Register adds a task. Tasks added after Start are scheduled from the
// start time as well.
func (r *Registry) Register(name string, schedule Schedule, fn worker.TaskFunc) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if fn == nil {
		return fmt.Errorf("task %s: nil task func", name)
	}
	if err := schedule.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	e := &entry{name: name, schedule: schedule, fn: fn}
	if !r.startedAt.IsZero() {
		e.state.NextRunAt = firstRun(schedule, r.startedAt, r.loc)
	}
	r.entries[name] = e
	return nil
}

// Start fixes the scheduler start time and computes every first firing.
func (r *Registry) Start(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startedAt = now
	for _, e := range r.entries {
		if !e.state.HasFiredOnce {
			e.state.NextRunAt = firstRun(e.schedule, now, r.loc)
		}
	}
}

func firstRun(s Schedule, start time.Time, loc *time.Location) *time.Time {
	if s.Tier == TierOnDemand {
		return nil
	}
	first := s.First(start, loc)
	return &first
}

// Due lists the tasks whose next firing is at or before now, by name.
func (r *Registry) Due(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name, e := range r.entries {
		if e.due(now) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (e *entry) due(now time.Time) bool {
	return e.state.NextRunAt != nil && !e.state.NextRunAt.After(now)
}

// Until returns the wait before the earliest pending firing. ok is false
// when nothing is scheduled.
func (r *Registry) Until(now time.Time) (wait time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var earliest *time.Time
	for _, e := range r.entries {
		next := e.state.NextRunAt
		if next == nil {
			continue
		}
		if earliest == nil || next.Before(*earliest) {
			earliest = next
		}
	}
	if earliest == nil {
		return 0, false
	}
	return max(earliest.Sub(now), 0), true
}

// Claim advances every due task to its next firing and returns those not
// still running from a previous firing, marked running. Skipped firings
// are reported separately.
func (r *Registry) Claim(now time.Time) (claimed []Dispatch, skipped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.due(now) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		e := r.entries[name]
		scheduled := *e.state.NextRunAt
		next := e.schedule.Next(scheduled, now, r.loc)
		e.state.NextRunAt = &next

		if e.state.Running {
			skipped = append(skipped, name)
			continue
		}
		e.fire(now)
		claimed = append(claimed, Dispatch{Name: name, Fn: e.fn, FiredAt: now, NextRunAt: &next})
	}
	return claimed, skipped
}

func (e *entry) fire(now time.Time) {
	fired := now
	e.state.LastRunAt = &fired
	e.state.HasFiredOnce = true
	e.state.Running = true
}

// ClaimNow marks a task running outside its schedule, as the on-demand
// path does. The schedule itself is left untouched.
func (r *Registry) ClaimNow(name string, now time.Time) (Dispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return Dispatch{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if e.state.Running {
		return Dispatch{}, fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}
	e.fire(now)
	return Dispatch{Name: name, Fn: e.fn, FiredAt: now, NextRunAt: e.state.NextRunAt}, nil
}

// Release marks a claimed task as finished.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.state.Running = false
	}
}

// State returns a copy of the task's schedule bookkeeping.
func (r *Registry) State(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return State{}, false
	}
	s := e.state
	if s.LastRunAt != nil {
		v := *s.LastRunAt
		s.LastRunAt = &v
	}
	if s.NextRunAt != nil {
		v := *s.NextRunAt
		s.NextRunAt = &v
	}
	return s, true
}

// Tier returns the cadence class of a registered task.
func (r *Registry) Tier(name string) (Tier, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return e.schedule.Tier, true
}

// Names lists registered tasks in name order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
