package queue

import (
	"context"
	"errors"
	"fmt"

	"qms/place-queue/internal/store"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// withRetry runs fn again while it reports a conflict with a concurrent
// writer. Any other error stops at once. Running out of attempts turns the
// conflict into ErrUnavailable.
func withRetry[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	attempts := 0
	operation := func() (T, error) {
		attempts++
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return result, backoff.Permanent(err)
		}
		s.metrics.conflicts.Add(ctx, 1, actionAttr(op))
		s.logger.Debug("retrying after conflict",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Error(err))
		return result, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryInitial
	policy.MaxInterval = 20 * s.retryInitial

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.maxRetries+1)))
	if err != nil && errors.Is(err, store.ErrConflict) {
		var zero T
		return zero, fmt.Errorf("%s: %w after %d attempts: %v", op, store.ErrUnavailable, attempts, err)
	}
	return result, err
}
