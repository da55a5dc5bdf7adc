package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBudgetExceeded is returned when a call does not finish within its wait budget.
var ErrBudgetExceeded = errors.New("call exceeded wait budget")

// CallWithBudget runs fn with a deadline of budget. If the deadline passes first,
// CallWithBudget returns ErrBudgetExceeded immediately and the eventual result of fn
// is dropped. Cancellation of the parent ctx is returned as ctx.Err().
func CallWithBudget[T any](ctx context.Context, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if budget <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %v", ErrBudgetExceeded, budget, r.err)
		}
		return r.val, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", ErrBudgetExceeded, budget)
	}
}
