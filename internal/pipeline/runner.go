package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/reviewradar/reviewradar/internal/backoff"
	"github.com/reviewradar/reviewradar/internal/events"
	"github.com/reviewradar/reviewradar/internal/session"
)

// stageFunc performs one attempt of a stage's external call.
type stageFunc func(ctx context.Context) error

// Runner executes a single stage for a single item: retries transient
// failures per the backoff policy, stops immediately on permanent ones,
// invalidates the session on authentication-class failures, and
// publishes started / retrying / terminal events.
type Runner struct {
	Policy   *backoff.Policy
	Bus      *events.Bus
	Sessions *session.Manager

	// OnAttempt, when set, is notified before every attempt. Used to
	// keep live item-run records current.
	OnAttempt func(itemID string, kind StageKind, attempt int)

	sleep func(ctx context.Context, d time.Duration, cancel <-chan struct{}) error
}

func NewRunner(policy *backoff.Policy, bus *events.Bus, sessions *session.Manager) *Runner {
	return &Runner{Policy: policy, Bus: bus, Sessions: sessions, sleep: sleepInterruptible}
}

func sleepInterruptible(ctx context.Context, d time.Duration, cancel <-chan struct{}) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cancel:
		return ErrCancelled
	}
}

// Run executes one stage invocation: up to maxAttempts tries of fn,
// then, when a fallback is given (navigation only), exactly one try of
// the alternate path outside the retry budget. Exactly one terminal
// event is published per invocation.
func (r *Runner) Run(ctx context.Context, jobID, itemID string, kind StageKind, cancel <-chan struct{}, fn, fallback stageFunc) (int, error) {
	maxAttempts := r.Policy.MaxAttempts(kind.String())
	r.publish(jobID, itemID, kind, events.KindStarted, nil)

	attempts := 0
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if r.OnAttempt != nil {
			r.OnAttempt(itemID, kind, attempt)
		}
		attempts = attempt

		err := fn(ctx)
		if err == nil {
			r.publish(jobID, itemID, kind, events.KindSucceeded, map[string]any{"attempt": attempt})
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		lastErr = err

		if errors.Is(err, session.ErrUnavailable) {
			// No usable session exists. Fatal to the whole job, so no
			// retry and no fallback.
			r.publish(jobID, itemID, kind, events.KindSkipped, map[string]any{"reason": "session unavailable"})
			return attempts, err
		}

		if session.IsAuthError(err) {
			// Force re-establishment; the next attempt acquires fresh.
			r.Sessions.Invalidate(err.Error())
		} else if !isTransient(err) {
			break
		}

		if attempt == maxAttempts {
			break
		}
		delay := r.Policy.NextDelay(attempt)
		slog.Debug("stage retry scheduled",
			"job", jobID, "item", itemID, "stage", kind, "attempt", attempt, "delay", delay)
		r.publish(jobID, itemID, kind, events.KindRetrying, map[string]any{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"reason":   err.Error(),
		})
		if err := r.sleep(ctx, delay, cancel); err != nil {
			return attempts, err
		}
	}

	if fallback != nil {
		err := fallback(ctx)
		if err == nil {
			r.publish(jobID, itemID, kind, events.KindSucceeded, map[string]any{
				"attempt":  attempts,
				"fallback": true,
			})
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		lastErr = err
	}

	r.publish(jobID, itemID, kind, events.KindFailed, map[string]any{
		"attempts": attempts,
		"reason":   lastErr.Error(),
	})
	return attempts, lastErr
}

func (r *Runner) publish(jobID, itemID string, kind StageKind, k events.Kind, payload map[string]any) {
	r.Bus.Publish(jobID, events.Event{
		ItemID:  itemID,
		Stage:   kind.String(),
		Kind:    k,
		Payload: payload,
	})
}

// isTransient asks the error itself. Collaborator errors carry their
// own classification; anything unclassified is treated as permanent.
func isTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}
