package portion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsense"
)

type stubPriors struct {
	prior mealsense.PortionPrior
	found bool
	err   error
}

func (s *stubPriors) Get(ctx context.Context, userID, foodName string) (mealsense.PortionPrior, bool, error) {
	return s.prior, s.found, s.err
}

func (s *stubPriors) Record(ctx context.Context, userID, foodName string, portionGrams float64) error {
	return nil
}

func TestToGrams(t *testing.T) {
	tests := []struct {
		qty  float64
		unit string
		want float64
		ok   bool
	}{
		{2, "cup", 480, true},
		{1, "kg", 1000, true},
		{500, "mg", 0.5, true},
		{3, "tbsp", 45, true},
		{1, "oz", 28.35, true},
		{2, "Cups", 480, true},
		{1, "grams", 1, true},
		{1, "piece", 0, false},
	}

	for _, tt := range tests {
		got, ok := ToGrams(tt.qty, tt.unit)
		assert.Equal(t, tt.ok, ok, tt.unit)
		if ok {
			assert.InDelta(t, tt.want, got, 0.0001, tt.unit)
		}
	}
}

func TestUnitRoundTrip(t *testing.T) {
	// 2 cups → grams → cups must recover 2 within rounding tolerance.
	grams, ok := ToGrams(2, "cup")
	require.True(t, ok)

	back, ok := FromGrams(grams, "cup")
	require.True(t, ok)
	assert.InDelta(t, 2.0, back, 0.001)
}

func TestApplyNoteCount(t *testing.T) {
	tests := []struct {
		name        string
		detected    float64
		count       float64
		food        string
		wantGrams   float64
		wantApplied bool
	}{
		{
			// 3 roti preset = 90g vs detected 50g: 80% deviation, override.
			name: "large deviation applies preset", detected: 50, count: 3, food: "roti",
			wantGrams: 90, wantApplied: true,
		},
		{
			// 2 roti preset = 60g vs detected 55g: ~9% deviation, trust model.
			name: "small deviation keeps model estimate", detected: 55, count: 2, food: "roti",
			wantGrams: 55, wantApplied: false,
		},
		{
			name: "unknown dish keeps model estimate", detected: 120, count: 2, food: "sambar",
			wantGrams: 120, wantApplied: false,
		},
		{
			name: "zero detected uses preset", detected: 0, count: 2, food: "idli",
			wantGrams: 80, wantApplied: true,
		},
		{
			// Half a roti preset = 15g vs detected 90g: 83% deviation.
			name: "fractional count applies preset", detected: 90, count: 0.5, food: "roti",
			wantGrams: 15, wantApplied: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied := ApplyNoteCount(tt.detected, tt.count, tt.food)
			assert.Equal(t, tt.wantApplied, applied)
			assert.InDelta(t, tt.wantGrams, got, 0.001)
		})
	}
}

func TestBlendWithPrior(t *testing.T) {
	// adjusted = detected×0.6 + prior×0.4, rounded.
	assert.Equal(t, 120.0, BlendWithPrior(100, 150))
	assert.Equal(t, 92.0, BlendWithPrior(80, 110))
}

func TestResolveGrams(t *testing.T) {
	ctx := context.Background()

	t.Run("unit conversion", func(t *testing.T) {
		r := NewResolver(&stubPriors{})
		res, err := r.ResolveGrams(ctx, "u1", mealsense.DetectedItem{Name: "milk", PortionGrams: 1, Unit: "cup"}, 0)
		require.NoError(t, err)
		assert.Equal(t, 240.0, res.Grams)
	})

	t.Run("prior applied with enough samples", func(t *testing.T) {
		r := NewResolver(&stubPriors{prior: mealsense.PortionPrior{AvgPortionGrams: 150, SampleCount: 3}, found: true})
		res, err := r.ResolveGrams(ctx, "u1", mealsense.DetectedItem{Name: "rice", PortionGrams: 100}, 0)
		require.NoError(t, err)
		assert.True(t, res.PriorApplied)
		assert.Equal(t, 120.0, res.Grams)
	})

	t.Run("prior skipped below sample floor", func(t *testing.T) {
		r := NewResolver(&stubPriors{prior: mealsense.PortionPrior{AvgPortionGrams: 150, SampleCount: 2}, found: true})
		res, err := r.ResolveGrams(ctx, "u1", mealsense.DetectedItem{Name: "rice", PortionGrams: 100}, 0)
		require.NoError(t, err)
		assert.False(t, res.PriorApplied)
		assert.Equal(t, 100.0, res.Grams)
	})

	t.Run("note count preset before prior", func(t *testing.T) {
		r := NewResolver(&stubPriors{})
		res, err := r.ResolveGrams(ctx, "u1", mealsense.DetectedItem{Name: "roti", PortionGrams: 150}, 2)
		require.NoError(t, err)
		assert.True(t, res.PresetApplied)
		assert.Equal(t, 60.0, res.Grams)
	})
}

func TestContainerGrams(t *testing.T) {
	g, ok := ContainerGrams("large", "bowl")
	require.True(t, ok)
	assert.InDelta(t, 210, g, 0.001)

	g, ok = ContainerGrams("", "katori")
	require.True(t, ok)
	assert.InDelta(t, 120, g, 0.001)

	_, ok = ContainerGrams("small", "bucket")
	assert.False(t, ok)
}

func TestUnitWeight(t *testing.T) {
	w, ok := UnitWeight("roti")
	require.True(t, ok)
	assert.Equal(t, 30.0, w)

	w, ok = UnitWeight("2 idlis with chutney")
	require.True(t, ok)
	assert.Equal(t, 40.0, w)

	_, ok = UnitWeight("sambar")
	assert.False(t, ok)
}
