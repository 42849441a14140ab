package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsense"
)

// memCounter is an in-memory QuotaCounter double.
type memCounter struct {
	counts map[string]int // "user|day|type" → count
	err    error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int{}}
}

func (m *memCounter) key(userID, day string, t mealsense.QuotaType) string {
	return userID + "|" + day + "|" + string(t)
}

func (m *memCounter) Counts(ctx context.Context, userID, day string) (mealsense.QuotaState, error) {
	if m.err != nil {
		return mealsense.QuotaState{}, m.err
	}
	return mealsense.QuotaState{
		UserID:      userID,
		Day:         day,
		VisionCount: m.counts[m.key(userID, day, mealsense.QuotaVision)],
		TextCount:   m.counts[m.key(userID, day, mealsense.QuotaText)],
	}, nil
}

func (m *memCounter) Increment(ctx context.Context, userID string, t mealsense.QuotaType, day string) error {
	if m.err != nil {
		return m.err
	}
	m.counts[m.key(userID, day, t)]++
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGateBoundary(t *testing.T) {
	ctx := context.Background()
	counter := newMemCounter()
	now := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	gate := NewGate(counter, Limits{FreeVision: 3, FreeText: 10}).WithClock(fixedClock(now))

	// N allowed calls, then call N+1 is denied with remaining=0.
	for i := 0; i < 3; i++ {
		dec := gate.Check(ctx, "u1", mealsense.QuotaVision, false)
		require.True(t, dec.Allowed, "call %d", i+1)
		require.NoError(t, gate.Increment(ctx, "u1", mealsense.QuotaVision))
	}

	dec := gate.Check(ctx, "u1", mealsense.QuotaVision, false)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)
	assert.Equal(t, 3, dec.Limit)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), dec.ResetsAt)
}

func TestGateDailyReset(t *testing.T) {
	ctx := context.Background()
	counter := newMemCounter()
	day1 := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	gate := NewGate(counter, Limits{FreeVision: 1, FreeText: 1}).WithClock(fixedClock(day1))

	require.NoError(t, gate.Increment(ctx, "u1", mealsense.QuotaVision))
	assert.False(t, gate.Check(ctx, "u1", mealsense.QuotaVision, false).Allowed)

	// Past midnight the counters start fresh.
	day2 := time.Date(2025, 6, 2, 0, 10, 0, 0, time.UTC)
	gate.WithClock(fixedClock(day2))
	dec := gate.Check(ctx, "u1", mealsense.QuotaVision, false)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 1, dec.Remaining)
}

func TestGatePremiumBypass(t *testing.T) {
	ctx := context.Background()
	counter := newMemCounter()
	gate := NewGate(counter, Limits{FreeVision: 0, FreeText: 0})

	dec := gate.Check(ctx, "u1", mealsense.QuotaVision, true)
	assert.True(t, dec.Allowed)
	assert.Equal(t, mealsense.UnlimitedQuota, dec.Limit)
	assert.Equal(t, mealsense.UnlimitedQuota, dec.Remaining)
}

func TestGateQuotaTypesIndependent(t *testing.T) {
	ctx := context.Background()
	counter := newMemCounter()
	gate := NewGate(counter, Limits{FreeVision: 1, FreeText: 5})

	require.NoError(t, gate.Increment(ctx, "u1", mealsense.QuotaVision))
	assert.False(t, gate.Check(ctx, "u1", mealsense.QuotaVision, false).Allowed)
	assert.True(t, gate.Check(ctx, "u1", mealsense.QuotaText, false).Allowed)
}

func TestGateFailsOpen(t *testing.T) {
	counter := newMemCounter()
	counter.err = errors.New("store down")
	gate := NewGate(counter, Limits{FreeVision: 3, FreeText: 3})

	dec := gate.Check(context.Background(), "u1", mealsense.QuotaVision, false)
	assert.True(t, dec.Allowed)
}

func TestCheckNeverIncrements(t *testing.T) {
	ctx := context.Background()
	counter := newMemCounter()
	gate := NewGate(counter, Limits{FreeVision: 2, FreeText: 2})

	for i := 0; i < 10; i++ {
		gate.Check(ctx, "u1", mealsense.QuotaVision, false)
	}
	dec := gate.Check(ctx, "u1", mealsense.QuotaVision, false)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Remaining)
}
