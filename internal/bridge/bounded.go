package bridge

import (
	"context"
	"errors"
	"time"
)

var ErrBudgetExceeded = errors.New("time budget exceeded")

// Bounded runs fn with a deadline of budget and returns as soon as either
// completes. fn receives the bounded context and must honour it; its result
// is discarded if the budget wins.
func Bounded[T any](ctx context.Context, budget time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrBudgetExceeded
		}
		return zero, ctx.Err()
	}
}
