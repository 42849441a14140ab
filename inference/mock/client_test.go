package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsense"
)

func TestAnalyzeMatchesKnownDishes(t *testing.T) {
	c := NewClient()

	result, err := c.Analyze(context.Background(), mealsense.InferenceRequest{Text: "roti with dal"})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "roti", result.Items[0].Name)
	assert.Equal(t, "dal", result.Items[1].Name)
	assert.InDelta(t, 235, result.TotalCalories, 0.001)
}

func TestAnalyzeFallsBackToCannedBreakfast(t *testing.T) {
	c := NewClient()

	result, err := c.Analyze(context.Background(), mealsense.InferenceRequest{Text: "mystery stew"})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "idli", result.Items[0].Name)
	assert.Equal(t, "sambar", result.Items[1].Name)
	assert.Equal(t, "mock-v1", result.ModelVersion)
}

func TestScriptedResponsesPlayInOrder(t *testing.T) {
	c := NewScriptedClient(
		Response{Err: errors.New("transient")},
		Response{Result: mealsense.InferenceResult{
			Items: []mealsense.DetectedItem{{Name: "poha", PortionGrams: 150, Calories: 180, Confidence: 0.8}},
		}},
	)

	_, err := c.Analyze(context.Background(), mealsense.InferenceRequest{Text: "poha"})
	require.Error(t, err)

	result, err := c.Analyze(context.Background(), mealsense.InferenceRequest{Text: "poha"})
	require.NoError(t, err)
	assert.Equal(t, "poha", result.Items[0].Name)

	// Script exhausted; deterministic behavior resumes.
	result, err = c.Analyze(context.Background(), mealsense.InferenceRequest{Text: "rice"})
	require.NoError(t, err)
	assert.Equal(t, "rice", result.Items[0].Name)
	assert.Equal(t, 3, c.Calls())
}
