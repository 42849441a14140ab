// Package mock is a deterministic inference backend for tests and local
// runs without a model. It recognizes a handful of common dishes in the
// request text and otherwise returns a canned south Indian breakfast.
package mock

import (
	"context"
	"log/slog"
	"strings"

	"mealsense"
)

type Client struct {
	// Scripted responses consumed in order before the canned fallback.
	// An entry with Err set fails that call.
	Responses []Response
	calls     int
}

type Response struct {
	Result mealsense.InferenceResult
	Err    error
}

var _ mealsense.InferenceAdapter = (*Client)(nil)

func NewClient() *Client { return &Client{} }

// NewScriptedClient returns a client that plays back the given responses
// in order, then falls through to the deterministic behavior.
func NewScriptedClient(responses ...Response) *Client {
	return &Client{Responses: responses}
}

func (c *Client) Calls() int { return c.calls }

func (c *Client) Analyze(ctx context.Context, req mealsense.InferenceRequest) (mealsense.InferenceResult, error) {
	slog.Info("MOCK: Analyze invoked", "user_id", req.UserID, "text", req.Text)
	c.calls++

	if len(c.Responses) > 0 {
		next := c.Responses[0]
		c.Responses = c.Responses[1:]
		if next.Err != nil {
			return mealsense.InferenceResult{}, next.Err
		}
		return next.Result, nil
	}

	text := strings.ToLower(req.Text)
	var items []mealsense.DetectedItem

	for _, known := range knownDishes {
		if strings.Contains(text, known.Name) {
			items = append(items, known)
		}
	}
	if len(items) == 0 {
		items = []mealsense.DetectedItem{knownDishes[0], knownDishes[1]}
	}

	var total float64
	for _, it := range items {
		total += it.Calories
	}

	return mealsense.InferenceResult{
		Items:         items,
		TotalCalories: total,
		Explanation:   "Deterministic mock analysis.",
		ModelVersion:  "mock-v1",
	}, nil
}

var knownDishes = []mealsense.DetectedItem{
	{
		Name:         "idli",
		PortionGrams: 80,
		Unit:         "piece",
		Calories:     116,
		Macros:       mealsense.Macros{Protein: 3.2, Carbs: 24.0, Fat: 0.4},
		Confidence:   0.92,
		Alternatives: []mealsense.Alternative{{Name: "rice cake", Confidence: 0.4}},
	},
	{
		Name:         "sambar",
		PortionGrams: 150,
		Unit:         "bowl",
		Calories:     123,
		Macros:       mealsense.Macros{Protein: 5.9, Carbs: 19.4, Fat: 3.4},
		Confidence:   0.85,
	},
	{
		Name:         "roti",
		PortionGrams: 30,
		Unit:         "piece",
		Calories:     85,
		Macros:       mealsense.Macros{Protein: 3.0, Carbs: 15.0, Fat: 1.5},
		Confidence:   0.9,
	},
	{
		Name:         "dal",
		PortionGrams: 150,
		Unit:         "bowl",
		Calories:     150,
		Macros:       mealsense.Macros{Protein: 9.0, Carbs: 21.0, Fat: 3.0},
		Confidence:   0.82,
	},
	{
		Name:         "rice",
		PortionGrams: 160,
		Unit:         "cup",
		Calories:     208,
		Macros:       mealsense.Macros{Protein: 4.3, Carbs: 45.0, Fat: 0.4},
		Confidence:   0.88,
	},
}
