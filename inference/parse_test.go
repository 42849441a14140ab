package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsense"
)

const validResponse = `{
  "items": [
    {
      "name": "idli",
      "portion_grams": 80,
      "unit": "piece",
      "calories": 116,
      "macros": {"protein_g": 3.2, "carbs_g": 24.0, "fat_g": 0.4},
      "confidence": 0.92,
      "alternatives": [{"name": "rice cake", "confidence": 0.4}]
    },
    {
      "name": "sambar",
      "portion_grams": 150,
      "unit": "bowl",
      "calories": 123,
      "macros": {"protein_g": 5.9, "carbs_g": 19.4, "fat_g": 3.4},
      "confidence": 0.85
    }
  ],
  "total_calories": 239,
  "explanation": "Two idli with a bowl of sambar."
}`

func TestParseValid(t *testing.T) {
	result, err := Parse(validResponse)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "idli", result.Items[0].Name)
	assert.InDelta(t, 0.92, result.Items[0].Confidence, 0.001)
	assert.Len(t, result.Items[0].Alternatives, 1)
	assert.InDelta(t, 239, result.TotalCalories, 0.001)
}

func TestParseStripsSurroundingProse(t *testing.T) {
	wrapped := "Here is the analysis:\n```json\n" + validResponse + "\n```\nLet me know if you need more."
	result, err := Parse(wrapped)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{
			name: "no json at all",
			raw:  "I could not identify the meal, sorry.",
		},
		{
			name: "empty items",
			raw:  `{"items": [], "total_calories": 0}`,
			field: "items",
		},
		{
			name: "missing item name",
			raw:  `{"items": [{"name": "", "portion_grams": 80, "calories": 100, "macros": {}, "confidence": 0.9}], "total_calories": 100}`,
			field: "items[0].name",
		},
		{
			name: "negative portion",
			raw:  `{"items": [{"name": "idli", "portion_grams": -5, "calories": 100, "macros": {}, "confidence": 0.9}], "total_calories": 100}`,
			field: "items[0].portion_grams",
		},
		{
			name: "confidence above one",
			raw:  `{"items": [{"name": "idli", "portion_grams": 80, "calories": 100, "macros": {}, "confidence": 92}], "total_calories": 100}`,
			field: "items[0].confidence",
		},
		{
			name: "unknown field rejected",
			raw:  `{"items": [{"name": "idli", "portion_grams": 80, "calories": 100, "macros": {}, "confidence": 0.9, "vitamin_c": 4}], "total_calories": 100}`,
		},
		{
			name: "string where number expected",
			raw:  `{"items": [{"name": "idli", "portion_grams": "eighty", "calories": 100, "macros": {}, "confidence": 0.9}], "total_calories": 100}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			require.Error(t, err)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), "expected *ParseError, got %T", err)
			if tt.field != "" {
				assert.Equal(t, tt.field, parseErr.Field)
			}
		})
	}
}

func TestParseErrorClipsRaw(t *testing.T) {
	long := make([]byte, 2048)
	for i := range long {
		long[i] = 'x'
	}
	_, err := Parse(string(long))

	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.LessOrEqual(t, len(parseErr.Raw), maxRawInError)
}

func TestBuildPrompt(t *testing.T) {
	t.Run("text request", func(t *testing.T) {
		got := BuildPrompt(mealsense.InferenceRequest{
			Text:     "2 idli with sambar",
			MealType: mealsense.MealBreakfast,
			Region:   "south-india",
			AuxNote:  "small portions",
		})
		assert.Contains(t, got, "2 idli with sambar")
		assert.Contains(t, got, "Meal type: breakfast")
		assert.Contains(t, got, "Region: south-india")
		assert.Contains(t, got, "Diner's note: small portions")
	})

	t.Run("photo request", func(t *testing.T) {
		got := BuildPrompt(mealsense.InferenceRequest{
			ImageData: []byte{0xFF, 0xD8},
		})
		assert.Contains(t, got, "attached meal photo")
	})
}

func TestResponseSchema(t *testing.T) {
	schema := ResponseSchema()
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Required, "items")
	require.Contains(t, schema.Properties, "items")
	assert.Equal(t, "array", schema.Properties["items"].Type)
}

func TestSystemPromptEmbedsResponseSchema(t *testing.T) {
	got := SystemPrompt()

	// Every field of the wire contract comes from the rendered schema, not
	// from hand-maintained prose.
	for _, field := range []string{`"portion_grams"`, `"macros"`, `"confidence"`, `"total_calories"`} {
		assert.Contains(t, got, field)
	}
	assert.Contains(t, got, string(ResponseSchemaJSON()))
}
