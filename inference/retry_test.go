package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsense"
)

type flakyAdapter struct {
	failures int
	calls    int
	err      error
}

func (f *flakyAdapter) Analyze(ctx context.Context, req mealsense.InferenceRequest) (mealsense.InferenceResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return mealsense.InferenceResult{}, f.err
	}
	return mealsense.InferenceResult{
		Items: []mealsense.DetectedItem{{Name: "idli", PortionGrams: 80, Calories: 116, Confidence: 0.9}},
	}, nil
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	adapter := &flakyAdapter{failures: 2, err: errors.New("connection reset")}

	result, err := fastPolicy(3).Analyze(context.Background(), adapter, mealsense.InferenceRequest{Text: "idli"})
	require.NoError(t, err)
	assert.Equal(t, 3, adapter.calls)
	assert.Len(t, result.Items, 1)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	adapter := &flakyAdapter{failures: 10, err: errors.New("connection reset")}

	_, err := fastPolicy(3).Analyze(context.Background(), adapter, mealsense.InferenceRequest{Text: "idli"})
	require.Error(t, err)
	assert.Equal(t, 3, adapter.calls)
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	adapter := &flakyAdapter{failures: 10, err: context.Canceled}

	_, err := fastPolicy(3).Analyze(ctx, adapter, mealsense.InferenceRequest{Text: "idli"})
	require.Error(t, err)
	assert.Equal(t, 1, adapter.calls)
}

func TestRetryParseErrorsAreRetried(t *testing.T) {
	adapter := &flakyAdapter{failures: 1, err: &ParseError{Reason: "no JSON object found"}}

	result, err := fastPolicy(3).Analyze(context.Background(), adapter, mealsense.InferenceRequest{Text: "idli"})
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.calls)
	assert.Len(t, result.Items, 1)
}
