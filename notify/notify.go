// Package notify publishes client exit notifications to downstream systems.
//
// A notification is sent once per launch, after the client has exited and
// its session record is final. Publishing is best effort: failures are
// reported to the caller but never change the launch result.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/acidburn0zzz/spice-xpi/session"
)

// EventType is the event_type of every exit notification.
const EventType = "client_exited"

// DefaultRetryInterval is the first wait between publish attempts.
const DefaultRetryInterval = 500 * time.Millisecond

// ExitEvent is the payload published when a launched client exits.
type ExitEvent struct {
	EventType  string `json:"event_type"`
	SessionID  string `json:"session_id"`
	Host       string `json:"host"`
	PID        int    `json:"pid,omitempty"`
	Transport  string `json:"transport"`
	Fallback   bool   `json:"fallback"`
	State      string `json:"state"`
	Result     string `json:"result"`
	ResultCode int    `json:"result_code"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"` // RFC 3339
	EndedAt    string `json:"ended_at,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// NewExitEvent builds the payload for a finished session record.
func NewExitEvent(r *session.Record) *ExitEvent {
	ev := &ExitEvent{
		EventType:  EventType,
		SessionID:  r.ID,
		Host:       r.Host,
		PID:        r.PID,
		Transport:  r.Transport,
		Fallback:   r.Fallback,
		State:      string(r.State),
		Result:     r.Result,
		ResultCode: r.ResultCode,
		Error:      r.Error,
		StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
	}
	if r.EndedAt != nil {
		ev.EndedAt = r.EndedAt.UTC().Format(time.RFC3339)
		ev.DurationMs = r.EndedAt.Sub(r.StartedAt).Milliseconds()
	}
	return ev
}

// Notifier publishes exit events to one downstream system.
type Notifier interface {
	// Publish sends ev. It must respect ctx cancellation and deadlines.
	Publish(ctx context.Context, ev *ExitEvent) error
	// Close releases notifier resources.
	Close() error
}

// Multi publishes to every notifier in order.
type Multi []Notifier

// Publish sends ev to all notifiers, even after a failure, and joins the
// errors.
func (m Multi) Publish(ctx context.Context, ev *ExitEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all notifiers.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retry runs op up to 1+retries times with exponential backoff starting at
// interval. Errors wrapped with backoff.Permanent stop immediately.
func Retry(ctx context.Context, retries int, interval time.Duration, op func(context.Context) error) error {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithMaxElapsedTime(0),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	return err
}

var _ Notifier = Multi(nil)
