// Package retry wraps idempotent external calls in a bounded retry with linear backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a fixed attempt count with a linearly growing delay (step, 2*step, ...).
type Policy struct {
	Attempts int
	Step     time.Duration
	// Permanent reports errors that must not be retried (not found, forbidden).
	Permanent func(error) bool
	Logger    *slog.Logger
}

// Linear is a backoff.BackOff whose n-th delay is n*Step.
type Linear struct {
	Step time.Duration
	n    int
}

// NextBackOff implements backoff.BackOff.
func (l *Linear) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.Step
}

// Reset implements backoff.BackOff.
func (l *Linear) Reset() { l.n = 0 }

// Do runs op until it succeeds, returns a permanent error, exhausts the attempts or ctx ends.
// The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&Linear{Step: p.Step}, uint64(attempts-1)), ctx)

	wrapped := func() error {
		err := op(ctx)
		if err != nil && p.Permanent != nil && p.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Debug("retrying", "operation", name, "error", err, "wait", wait)
		}
	}

	return backoff.RetryNotify(wrapped, b, notify)
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
