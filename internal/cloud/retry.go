// Package cloud synchronises bridge activity with the remote store under a
// bounded retry budget.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/omarafosh/NFC-Card-Germany/internal/store"
)

// Policy is a linear retry budget: attempt n waits n*BaseDelay before the
// next one.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (p Policy) backoff() retry.Backoff {
	var failures int
	return retry.BackoffFunc(func() (time.Duration, bool) {
		failures++
		if failures >= p.Attempts {
			return 0, true
		}
		return time.Duration(failures) * p.BaseDelay, false
	})
}

// SyncError reports an operation whose retry budget was exhausted or that
// failed permanently.
type SyncError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func permanent(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, context.Canceled)
}

// Do runs fn until it succeeds, fails permanently, or the policy is spent.
// callTimeout bounds each attempt when positive.
func Do[T any](ctx context.Context, p Policy, op string, callTimeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result   T
		attempts int
	)
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, callTimeout)
		}
		v, err := fn(callCtx)
		cancel()
		if err == nil {
			result = v
			return nil
		}
		if permanent(err) || ctx.Err() != nil {
			return err
		}
		slog.Warn("Sync attempt failed", "op", op, "attempt", attempts, "max_attempts", p.Attempts, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, &SyncError{Op: op, Attempts: attempts, Err: err}
	}
	return result, nil
}
