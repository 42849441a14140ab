// Package inference holds the model-facing pieces shared by every backend:
// the prompt, the strict response parser and the retry policy. Backends live
// in subpackages and only differ in transport.
package inference

import (
	"strings"

	"mealsense"
)

const systemPrompt = `You are a nutrition analysis assistant for Indian and international meals.

GOAL:
Identify every food item in the photo or description, estimate its portion in grams and its calories and macros, and return the result as JSON.

FINAL OUTPUT FORMAT:
Return ONLY the JSON object - no explanations, no text before or after, no markdown formatting. Start immediately with { and end with }.

CRITICAL RULES:
- Output ONLY the JSON object, valid UTF-8, no code fences, no trailing commas.
- items must NEVER be empty; if unsure, return your best guess with low confidence.
- portion_grams and calories must be non-negative numbers, never strings.
- confidence is a fraction between 0 and 1, never a percentage.
- Prefer regional dish names over generic ones when the region is given.
- Use the diner's note only as context; do not invent items it does not support.
`

// BuildPrompt assembles the user-facing text for one request. The system
// prompt is fixed; everything request-specific goes here.
func BuildPrompt(req mealsense.InferenceRequest) string {
	var b strings.Builder

	if len(req.ImageData) > 0 {
		b.WriteString("Analyze the attached meal photo.")
	} else {
		b.WriteString("Analyze this meal description: ")
		b.WriteString(req.Text)
	}

	if req.MealType != "" {
		b.WriteString("\nMeal type: ")
		b.WriteString(string(req.MealType))
	}
	if req.Region != "" {
		b.WriteString("\nRegion: ")
		b.WriteString(req.Region)
	}
	if len(req.DietaryPrefs) > 0 {
		b.WriteString("\nDietary preferences: ")
		b.WriteString(strings.Join(req.DietaryPrefs, ", "))
	}
	if req.AuxNote != "" {
		b.WriteString("\nDiner's note: ")
		b.WriteString(req.AuxNote)
	}

	return b.String()
}

// SystemPrompt returns the shared system prompt all backends send. The
// response schema is rendered into it so the prompt and the parser can never
// disagree about the wire shape.
func SystemPrompt() string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\nJSON SCHEMA (the output must validate against it):\n")
	b.Write(ResponseSchemaJSON())
	b.WriteString("\n")
	return b.String()
}
