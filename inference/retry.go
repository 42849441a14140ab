package inference

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mealsense"
)

// RetryPolicy is the single place retry behavior lives. Backends do not
// retry internally; the pipeline wraps each Analyze call with a policy so
// every backend gets the same treatment.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
	}
}

// Analyze runs the adapter with exponential backoff. Context cancellation
// stops immediately; everything else, including schema-invalid responses,
// is retried up to MaxAttempts since the model may produce valid output on
// the next call.
func (p RetryPolicy) Analyze(ctx context.Context, adapter mealsense.InferenceAdapter, req mealsense.InferenceRequest) (mealsense.InferenceResult, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}

	attempt := 0
	op := func() (mealsense.InferenceResult, error) {
		attempt++
		result, err := adapter.Analyze(ctx, req)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return mealsense.InferenceResult{}, backoff.Permanent(err)
		}
		slog.Warn("INFERENCE: attempt failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		return mealsense.InferenceResult{}, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
	)
}
