package controller

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Schedule selects how the wait between connect attempts evolves.
type Schedule string

// Retry schedules.
const (
	// ScheduleLinear waits 0, Interval, 2*Interval, ... between attempts.
	ScheduleLinear Schedule = "linear"
	// ScheduleConstant waits Interval between every pair of attempts.
	ScheduleConstant Schedule = "constant"
)

// Default retry parameters.
const (
	DefaultAttempts = 10
	DefaultInterval = time.Second
)

// RetryPolicy bounds the connect loop against a freshly spawned client.
type RetryPolicy struct {
	Attempts int
	Schedule Schedule
	Interval time.Duration
}

// DefaultRetryPolicy returns the linear one-second policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: DefaultAttempts,
		Schedule: ScheduleLinear,
		Interval: DefaultInterval,
	}
}

// Validate checks the policy fields.
func (p RetryPolicy) Validate() error {
	switch p.Schedule {
	case ScheduleLinear, ScheduleConstant:
	default:
		return fmt.Errorf("unknown retry schedule %q", p.Schedule)
	}
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", p.Attempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("retry interval must not be negative, got %s", p.Interval)
	}
	return nil
}

// BackOff returns a fresh backoff for one connect loop.
func (p RetryPolicy) BackOff() backoff.BackOff {
	if p.Schedule == ScheduleConstant {
		return backoff.NewConstantBackOff(p.Interval)
	}
	return &linearBackOff{step: p.Interval}
}

// linearBackOff grows the wait by step after every failed attempt,
// starting at zero.
type linearBackOff struct {
	step time.Duration
	n    int64
}

func (b *linearBackOff) Reset() { b.n = 0 }

func (b *linearBackOff) NextBackOff() time.Duration {
	d := time.Duration(b.n) * b.step
	b.n++
	return d
}
