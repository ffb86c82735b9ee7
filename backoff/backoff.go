// Package backoff computes how long a failed job waits before its next
// attempt. Strategies are stateless and safe for concurrent use; the
// waiting itself is done by the store (the job's RunAt moves forward), so
// no worker slot is held while a job backs off.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Kind names a strategy in configuration.
type Kind string

// Strategy kinds accepted by New.
const (
	KindConstant    Kind = "constant"
	KindLinear      Kind = "linear"
	KindExponential Kind = "exponential"
	KindJitter      Kind = "exponential_jitter"
)

// New builds the strategy named by kind. An empty kind selects
// exponential.
func New(kind Kind, base, maxDelay time.Duration) (Strategy, error) {
	switch kind {
	case KindExponential, "":
		return NewExponential(base, maxDelay), nil
	case KindConstant:
		return NewConstant(base), nil
	case KindLinear:
		return NewLinear(base, maxDelay), nil
	case KindJitter:
		return NewExponentialWithJitter(base, maxDelay), nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", kind)
	}
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay by Initial each attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(max(attempt, 1))
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt:
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(exponent(e.Initial, attempt), e.Max)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter draws uniformly from [0, Exponential delay].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := capped(exponent(e.Initial, attempt), e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func exponent(initial time.Duration, attempt int) float64 {
	return float64(initial) * math.Pow(2, float64(max(attempt, 1)-1))
}

func capped(d float64, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultBaseDelay is the first retry delay of the default policy.
const DefaultBaseDelay = 2 * time.Second

// DefaultStrategy returns exponential backoff from a 2s base, capped at
// ten minutes.
func DefaultStrategy() Strategy {
	return NewExponential(DefaultBaseDelay, 10*time.Minute)
}
