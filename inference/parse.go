package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"

	"mealsense"
)

// ParseError reports a model response that failed schema validation. It is
// distinct from transport errors so callers can fall back to a manual-entry
// placeholder instead of treating the call as infrastructure failure.
type ParseError struct {
	Field  string // offending field, empty when the whole body is bad
	Reason string
	Raw    string // trimmed model output, for the audit log
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid model response: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid model response: %s", e.Reason)
}

const maxRawInError = 512

// Parse validates raw model output against the response schema and returns
// the typed result. Unknown fields are rejected so schema drift surfaces
// immediately rather than as silently dropped data.
func Parse(raw string) (mealsense.InferenceResult, error) {
	text := extractJSON(raw)
	if text == "" {
		return mealsense.InferenceResult{}, &ParseError{Reason: "no JSON object found", Raw: clip(raw)}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()

	var result mealsense.InferenceResult
	if err := dec.Decode(&result); err != nil {
		return mealsense.InferenceResult{}, &ParseError{Reason: err.Error(), Raw: clip(text)}
	}

	if len(result.Items) == 0 {
		return mealsense.InferenceResult{}, &ParseError{Field: "items", Reason: "must not be empty", Raw: clip(text)}
	}
	for i, it := range result.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(it.Name) == "" {
			return mealsense.InferenceResult{}, &ParseError{Field: field + ".name", Reason: "must not be empty", Raw: clip(text)}
		}
		if it.PortionGrams < 0 {
			return mealsense.InferenceResult{}, &ParseError{Field: field + ".portion_grams", Reason: "must be non-negative", Raw: clip(text)}
		}
		if it.Calories < 0 {
			return mealsense.InferenceResult{}, &ParseError{Field: field + ".calories", Reason: "must be non-negative", Raw: clip(text)}
		}
		if it.Confidence < 0 || it.Confidence > 1 {
			return mealsense.InferenceResult{}, &ParseError{Field: field + ".confidence", Reason: "must be in [0,1]", Raw: clip(text)}
		}
	}
	if result.TotalCalories < 0 {
		return mealsense.InferenceResult{}, &ParseError{Field: "total_calories", Reason: "must be non-negative", Raw: clip(text)}
	}

	return result, nil
}

// extractJSON pulls the outermost JSON object out of model output that may
// carry stray prose or code fences around it.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxRawInError {
		return s[:maxRawInError]
	}
	return s
}

// ResponseSchema describes the expected model output. It is the single
// source of the wire contract: SystemPrompt renders it for every backend and
// the Ollama client additionally sends it as the structured-output format.
func ResponseSchema() *jsonschema.Schema {
	minZero := 0.0
	maxOne := 1.0
	minOneItem := 1

	macros := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"protein_g": {Type: "number"},
			"carbs_g":   {Type: "number"},
			"fat_g":     {Type: "number"},
		},
		Required: []string{"protein_g", "carbs_g", "fat_g"},
	}

	item := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"name":          {Type: "string", Description: "lowercase food name, e.g. \"idli\""},
			"portion_grams": {Type: "number", Minimum: &minZero, Description: "estimated portion weight in grams"},
			"unit":          {Type: "string", Description: "optional source unit, e.g. \"piece\", \"bowl\""},
			"calories":      {Type: "number", Minimum: &minZero},
			"macros":        macros,
			"confidence":    {Type: "number", Minimum: &minZero, Maximum: &maxOne, Description: "0..1 fraction, never a percentage"},
			"alternatives": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name":       {Type: "string"},
						"confidence": {Type: "number"},
					},
					Required: []string{"name", "confidence"},
				},
			},
		},
		Required: []string{"name", "portion_grams", "calories", "macros", "confidence"},
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"items":          {Type: "array", Items: item, MinItems: &minOneItem, Description: "must contain at least one element"},
			"total_calories": {Type: "number"},
			"explanation":    {Type: "string", Description: "<= 200 chars, how you arrived at the estimate"},
			"model_version":  {Type: "string"},
		},
		Required: []string{"items", "total_calories"},
	}
}

var responseSchemaJSON = func() json.RawMessage {
	b, err := json.MarshalIndent(ResponseSchema(), "", "  ")
	if err != nil {
		panic(fmt.Sprintf("render response schema: %v", err))
	}
	return b
}()

// ResponseSchemaJSON is the schema rendered once, for prompt embedding and
// structured-output request payloads.
func ResponseSchemaJSON() json.RawMessage {
	return responseSchemaJSON
}
