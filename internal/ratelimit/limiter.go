// Package ratelimit admits upstream calls under a sliding-window budget.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/metrics"
)

// Limiter allows at most MaxRequests admissions in any Window. A blocked
// caller sleeps until the oldest admission leaves the window plus a random
// jitter, then re-checks.
type Limiter struct {
	maxRequests int
	window      time.Duration
	jitterMin   time.Duration
	jitterMax   time.Duration

	mu         sync.Mutex
	admissions []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

type Option func(*Limiter)

// WithClock replaces the time source and sleeper, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

func WithRand(r func() float64) Option {
	return func(l *Limiter) { l.rand = r }
}

func New(maxRequests int, window, jitterMin, jitterMax time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		maxRequests: max(maxRequests, 1),
		window:      window,
		jitterMin:   jitterMin,
		jitterMax:   max(jitterMax, jitterMin),
		now:         time.Now,
		sleep:       sleepCtx,
		rand:        rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func NewFromConfig(cfg config.RateLimitConfig, opts ...Option) *Limiter {
	return New(
		cfg.MaxRequests,
		seconds(cfg.WindowSeconds),
		seconds(cfg.JitterMin),
		seconds(cfg.JitterMax),
		opts...,
	)
}

// Acquire blocks until a unit of work may be issued and records it. It
// fails only when ctx is done first.
func (l *Limiter) Acquire(ctx context.Context) error {
	started := l.now()
	for {
		wait, ok := l.tryAdmit()
		if ok {
			if waited := l.now().Sub(started); waited > 0 {
				metrics.ObserveRateLimitWait(waited)
			}
			return nil
		}
		if err := l.sleep(ctx, wait+l.jitter()); err != nil {
			return err
		}
	}
}

// tryAdmit records an admission when the window has room; otherwise it
// returns how long until the oldest admission expires.
func (l *Limiter) tryAdmit() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	keep := 0
	for keep < len(l.admissions) && !l.admissions[keep].After(cutoff) {
		keep++
	}
	l.admissions = l.admissions[keep:]

	if len(l.admissions) < l.maxRequests {
		l.admissions = append(l.admissions, now)
		return 0, true
	}
	return l.admissions[0].Add(l.window).Sub(now), false
}

func (l *Limiter) jitter() time.Duration {
	span := l.jitterMax - l.jitterMin
	if span <= 0 {
		return l.jitterMin
	}
	return l.jitterMin + time.Duration(l.rand()*float64(span))
}

// InWindow returns the number of admissions inside the current window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.admissions {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
