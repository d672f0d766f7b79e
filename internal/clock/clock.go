// Package clock provides the single time base shared by the sequencer, the
// followers, the sampler and the stream outlets. All timestamps are nominal
// durations since the clock's epoch.
package clock

import (
	"context"
	"math"
	"time"
)

// Clock is the time source of a run.
type Clock interface {
	// Now returns nominal time elapsed since the clock's epoch.
	Now() time.Duration
	// SleepUntil blocks until the nominal deadline or until ctx is done.
	SleepUntil(ctx context.Context, deadline time.Duration) error
	// NewTicker fires every nominal period d.
	NewTicker(d time.Duration) *time.Ticker
	// NewTimer fires once at the nominal deadline.
	NewTimer(deadline time.Duration) *time.Timer
}

// Sleep blocks for the nominal duration d.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	return c.SleepUntil(ctx, c.Now()+d)
}

// Scaled runs nominal time Factor times faster than the wall clock.
// Factor 1 is real time; dry runs and tests use larger factors.
type Scaled struct {
	epoch  time.Time
	factor float64
}

// Real returns a wall-clock time base starting now.
func Real() *Scaled {
	return NewScaled(1)
}

// NewScaled returns a time base starting now; factor <= 0 means real time.
func NewScaled(factor float64) *Scaled {
	if factor <= 0 {
		factor = 1
	}
	return &Scaled{epoch: time.Now(), factor: factor}
}

func (c *Scaled) Factor() float64 {
	return c.factor
}

func (c *Scaled) Now() time.Duration {
	return time.Duration(float64(time.Since(c.epoch)) * c.factor)
}

func (c *Scaled) SleepUntil(ctx context.Context, deadline time.Duration) error {
	if deadline <= c.Now() {
		return ctx.Err()
	}

	timer := c.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Scaled) NewTimer(deadline time.Duration) *time.Timer {
	wait := c.toReal(deadline - c.Now())
	if wait < 0 {
		wait = 0
	}
	return time.NewTimer(wait)
}

func (c *Scaled) NewTicker(d time.Duration) *time.Ticker {
	period := c.toReal(d)
	if period <= 0 {
		period = time.Millisecond
	}
	return time.NewTicker(period)
}

func (c *Scaled) toReal(d time.Duration) time.Duration {
	return time.Duration(float64(d) / c.factor)
}

// MaxSeconds is the longest span, in whole seconds, a Duration can hold.
const MaxSeconds = float64(math.MaxInt64 / int64(time.Second))

// ValidSpan reports whether s seconds is non-negative and converts to a
// Duration without overflow. NaN is never valid.
func ValidSpan(s float64) bool {
	return s >= 0 && s <= MaxSeconds
}

// Seconds converts a float seconds value from configuration into a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
