package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mealsense"
)

func keyItems() []mealsense.ReconciledItem {
	return []mealsense.ReconciledItem{
		{Name: "idli", PortionGrams: 120, Calories: 174, Macros: mealsense.Macros{Protein: 4.8, Carbs: 36, Fat: 0.5}},
		{Name: "sambar", PortionGrams: 150, Calories: 123, Macros: mealsense.Macros{Protein: 5.9, Carbs: 19.4, Fat: 3.4}},
	}
}

func TestIdempotencyKeyStableWithinMinute(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 30, 5, 0, time.UTC)
	retry := at.Add(40 * time.Second) // same minute bucket

	k1 := IdempotencyKey("u1", mealsense.MealLunch, "photos/a.jpg", keyItems(), at)
	k2 := IdempotencyKey("u1", mealsense.MealLunch, "photos/a.jpg", keyItems(), retry)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestIdempotencyKeyChangesAcrossMinutes(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 30, 55, 0, time.UTC)
	later := at.Add(10 * time.Second) // crosses into 12:31

	k1 := IdempotencyKey("u1", mealsense.MealLunch, "", keyItems(), at)
	k2 := IdempotencyKey("u1", mealsense.MealLunch, "", keyItems(), later)
	assert.NotEqual(t, k1, k2)
}

func TestIdempotencyKeyIgnoresSubGramNoise(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	jittered := keyItems()
	jittered[0].Calories = 174.3 // rounds back to 174

	k1 := IdempotencyKey("u1", mealsense.MealLunch, "", keyItems(), at)
	k2 := IdempotencyKey("u1", mealsense.MealLunch, "", jittered, at)
	assert.Equal(t, k1, k2)
}

func TestIdempotencyKeyDiscriminates(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	base := IdempotencyKey("u1", mealsense.MealLunch, "", keyItems(), at)

	assert.NotEqual(t, base, IdempotencyKey("u2", mealsense.MealLunch, "", keyItems(), at))
	assert.NotEqual(t, base, IdempotencyKey("u1", mealsense.MealDinner, "", keyItems(), at))
	assert.NotEqual(t, base, IdempotencyKey("u1", mealsense.MealLunch, "photos/a.jpg", keyItems(), at))

	edited := keyItems()
	edited[1].PortionGrams = 200
	assert.NotEqual(t, base, IdempotencyKey("u1", mealsense.MealLunch, "", edited, at))
}
