package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/observability"
	"github.com/ent0n29/tunesmith/internal/reliability"
	"github.com/ent0n29/tunesmith/internal/session"
)

const maxBackoffFactor = 8

// dispatch runs call under the retry policy for op, counting attempts in the session.
//
// It reports ok=false with a nil error when attempts are exhausted; the counter is then
// reset so the user can ask again. A non-nil error means the turn itself was cancelled.
// Each attempt has its own deadline; a result that arrives after it is discarded.
func dispatch[T any](ctx context.Context, t *turn, op session.Operation, budget time.Duration, call func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	o := t.o
	for t.s.RetryCount(op) < o.cfg.MaxAttempts {
		if n := t.s.RetryCount(op); n > 0 {
			wait := reliability.ExponentialBackoff(n-1, o.cfg.RetryBackoff, maxBackoffFactor*o.cfg.RetryBackoff)
			if err := reliability.Sleep(ctx, wait); err != nil {
				return zero, false, err
			}
		}
		attempt := t.s.RetryCount(op) + 1

		attemptCtx, span := observability.Tracer().Start(ctx, "gateway."+string(op), trace.WithAttributes(
			attribute.String("op", string(op)),
			attribute.Int("attempt", attempt),
			attribute.String("budget", budget.String()),
		))
		start := time.Now()
		v, err := reliability.CallWithBudget(attemptCtx, budget, call)
		elapsed := time.Since(start)

		if err == nil {
			span.End()
			o.deps.Metrics.ObserveGatewayCall(string(op), "ok", elapsed)
			t.s.ResetRetry(op)
			return v, true, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		if ctxErr := ctx.Err(); ctxErr != nil {
			o.deps.Metrics.ObserveGatewayCall(string(op), "cancelled", elapsed)
			return zero, false, ctxErr
		}
		result := "error"
		if errors.Is(err, reliability.ErrBudgetExceeded) {
			result = "timeout"
		}
		o.deps.Metrics.ObserveGatewayCall(string(op), result, elapsed)
		t.s.IncRetry(op)
		t.log.Warn("gateway attempt failed",
			zap.String("op", string(op)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.cfg.MaxAttempts),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}

	t.s.ResetRetry(op)
	o.deps.Metrics.ObserveOperationFailure(string(op))
	t.log.Error("gateway attempts exhausted", zap.String("op", string(op)), zap.Int("max_attempts", o.cfg.MaxAttempts))
	return zero, false, nil
}
