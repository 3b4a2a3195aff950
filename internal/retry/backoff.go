package retry

import (
	"context"
	"math"
	"time"
)

// Policy bounds retries and computes delays.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries    int           `mapstructure:"max_retries"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	Factor        float64       `mapstructure:"factor"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	MaxRetryAfter time.Duration `mapstructure:"max_retry_after"`
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  2 * time.Second,
		Factor:        2,
		MaxDelay:      30 * time.Second,
		MaxRetryAfter: 5 * time.Minute,
	}
}

// Delay returns how long to wait before retry number attempt (1-based).
// A provider hint wins and is clamped to MaxRetryAfter; otherwise the delay
// grows exponentially and is capped at MaxDelay.
func (p Policy) Delay(attempt int, r *Reason) time.Duration {
	if r != nil && r.HasRetryAfter {
		d := r.RetryAfter
		if p.MaxRetryAfter > 0 && d > p.MaxRetryAfter {
			d = p.MaxRetryAfter
		}
		if d < 0 {
			d = 0
		}
		return d
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	d := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// ShouldRetry reports whether retry number attempt (1-based) may run. A
// failed attempt that already produced text or a tool call is never retried.
func (p Policy) ShouldRetry(ctx context.Context, attempt int, r *Reason, produced bool) bool {
	if r == nil || produced || ctx.Err() != nil {
		return false
	}
	return attempt <= p.MaxRetries
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
