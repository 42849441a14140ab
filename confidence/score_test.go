package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mealsense"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		factors mealsense.ConfidenceFactors
		want    int
	}{
		{
			// The idli reference case: 0.4×90 + 0.3×95 + 0.2×95 + 0.1×70 = 90.5 → 91.
			name:    "reference weighted sum rounds up",
			factors: mealsense.ConfidenceFactors{Model: 90, Mapping: 95, Portion: 95, Context: 70},
			want:    91,
		},
		{
			name:    "all zero",
			factors: mealsense.ConfidenceFactors{},
			want:    0,
		},
		{
			name:    "all max",
			factors: mealsense.ConfidenceFactors{Model: 100, Mapping: 100, Portion: 100, Context: 100},
			want:    100,
		},
		{
			name:    "unmapped low confidence item",
			factors: mealsense.ConfidenceFactors{Model: 85, Mapping: 40, Portion: 80, Context: 70},
			want:    69, // 34 + 12 + 16 + 7
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.factors)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestPortionHeuristic(t *testing.T) {
	tests := []struct {
		name     string
		detected float64
		expected float64
		want     float64
	}{
		{"near expected", 40, 40, 95},
		{"upper edge of tight band", 48, 40, 95},
		{"moderate deviation", 55, 40, 80},
		{"large deviation", 70, 40, 60},
		{"extreme deviation", 200, 40, 40},
		{"tiny portion", 10, 40, 40},
		{"no expectation is neutral", 200, 0, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PortionHeuristic(tt.detected, tt.expected))
		})
	}
}

func TestContextScore(t *testing.T) {
	assert.Equal(t, 90.0, ContextScore("south-india"))
	assert.Equal(t, 70.0, ContextScore(""))
}

func TestThresholds(t *testing.T) {
	assert.True(t, NeedsVerification(69))
	assert.False(t, NeedsVerification(70))
	assert.True(t, NeedsWarning(79))
	assert.False(t, NeedsWarning(80))
}

func TestTraceDoesNotAlterScore(t *testing.T) {
	f := mealsense.ConfidenceFactors{Model: 90, Mapping: 95, Portion: 95, Context: 70}
	before := Score(f)
	lines := Trace(f, before)

	assert.Len(t, lines, 5)
	assert.Equal(t, before, Score(f))
}
