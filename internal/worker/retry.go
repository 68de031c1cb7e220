package worker

import (
	"math"
	"time"

	"marketsync/internal/config"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter stretches each delay by up to this fraction.
	Jitter float64
}

// RetryPolicyFromConfig maps executor settings onto a policy. MaxRetries
// counts attempts, the first one included.
func RetryPolicyFromConfig(cfg config.ExecutorConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxAttempts,
		InitialDelay:  time.Duration(cfg.InitialDelaySeconds * float64(time.Second)),
		MaxDelay:      time.Duration(cfg.MaxDelaySeconds * float64(time.Second)),
		BackoffFactor: 2,
		Jitter:        0.2,
	}
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// JitteredDelay is NextDelay stretched by Jitter*rnd, rnd in [0, 1).
func (r RetryPolicy) JitteredDelay(attempt int, rnd float64) time.Duration {
	d := r.NextDelay(attempt)
	if r.Jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*r.Jitter*rnd)
}
