// internal/recovery/backoff.go
package recovery

import (
	"math"
	"math/rand"
	"time"
)

// BackoffKind selects the delay growth curve.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
)

// BackoffPolicy controls retry pacing: delays grow from BaseDelay up to
// MaxDelay, with up to JitterFraction random jitter added on top.
type BackoffPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Kind           BackoffKind
	JitterFraction float64
}

// DefaultBackoffPolicy returns the standard policy: 3 attempts, 1s base,
// 60s cap, exponential growth, up to 25% jitter.
func DefaultBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       60 * time.Second,
		Kind:           BackoffExponential,
		JitterFraction: 0.25,
	}
}

// Delay returns the deterministic (jitter-free) delay for the given attempt
// number (1-indexed), capped at MaxDelay. Exponential doubles each attempt;
// linear grows by BaseDelay each attempt.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var delay float64
	switch p.Kind {
	case BackoffLinear:
		delay = float64(p.BaseDelay) * float64(attempt)
	default:
		delay = float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	}
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// DelayWithJitter adds up to JitterFraction of random jitter to the
// deterministic delay.
func (p *BackoffPolicy) DelayWithJitter(attempt int) time.Duration {
	delay := p.Delay(attempt)
	if p.JitterFraction <= 0 {
		return delay
	}
	jitter := time.Duration(float64(delay) * p.JitterFraction * rand.Float64())
	return delay + jitter
}
