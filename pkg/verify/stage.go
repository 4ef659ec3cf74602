package verify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// within runs call under a budget. If call does not return once the budget is
// spent it is abandoned and timeoutErr is reported. Cancellation of the parent
// ctx is returned as is. An abandoned call may still complete later.
func within[T any](ctx context.Context, budget time.Duration, timeoutErr error, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w: %v", timeoutErr, ctx.Err())
	}
}
