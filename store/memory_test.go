package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecentMealsNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	// Insert out of chronological order; map iteration must not leak
	// through.
	for i, offset := range []time.Duration{2 * time.Hour, 0, 4 * time.Hour, time.Hour} {
		meal := sampleMeal(string(rune('a'+i)), "")
		meal.LoggedAt = meal.LoggedAt.Add(offset)
		_, dup, err := m.SaveIfAbsent(ctx, meal.ID, meal)
		require.NoError(t, err)
		require.False(t, dup)
	}

	meals, err := m.RecentMeals(ctx, "u1",
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, meals, 4)
	for i := 1; i < len(meals); i++ {
		assert.True(t, meals[i-1].LoggedAt.After(meals[i].LoggedAt),
			"meals[%d] should be newer than meals[%d]", i-1, i)
	}

	// Limit trims after ordering, keeping the newest.
	meals, err = m.RecentMeals(ctx, "u1",
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), 2)
	require.NoError(t, err)
	require.Len(t, meals, 2)
	assert.Equal(t, "c", meals[0].ID)
	assert.Equal(t, "a", meals[1].ID)
}
