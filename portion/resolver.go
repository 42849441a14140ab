// Package portion resolves detected portions to grams: static unit
// conversion, per-dish piece presets driven by note counts, and per-user
// historical priors.
package portion

import (
	"context"
	"fmt"
	"math"

	"mealsense"
)

const (
	// presetDeviationThreshold: a note-derived preset overrides the model's
	// visual estimate only when they disagree by more than 50%. Small
	// deviations trust the model; large ones signal miscounted pieces.
	presetDeviationThreshold = 0.5

	// Blend weights for the per-user prior.
	detectedWeight = 0.6
	priorWeight    = 0.4

	// MinPriorSamples is how much history a prior needs before it is trusted.
	MinPriorSamples = 3
)

type Resolver struct {
	priors mealsense.PriorStore
}

func NewResolver(priors mealsense.PriorStore) *Resolver {
	return &Resolver{priors: priors}
}

// Resolution describes how one item's portion was adjusted.
type Resolution struct {
	Grams         float64
	PresetApplied bool
	PriorApplied  bool
	NoteCount     float64
}

// ResolveGrams normalizes a detected item's portion to grams, then applies
// the note-count preset and the user prior in that order. It never fails:
// unknown units keep the model's gram estimate.
func (r *Resolver) ResolveGrams(ctx context.Context, userID string, item mealsense.DetectedItem, noteCount float64) (Resolution, error) {
	res := Resolution{Grams: item.PortionGrams, NoteCount: noteCount}

	if item.Unit != "" && item.Unit != "g" {
		if g, ok := ToGrams(item.PortionGrams, item.Unit); ok {
			res.Grams = g
		}
	}

	if noteCount > 0 {
		if adjusted, applied := ApplyNoteCount(res.Grams, noteCount, item.Name); applied {
			res.Grams = adjusted
			res.PresetApplied = true
		}
	}

	if r.priors != nil && userID != "" {
		prior, found, err := r.priors.Get(ctx, userID, item.Name)
		if err != nil {
			return res, fmt.Errorf("load portion prior for %q: %w", item.Name, err)
		}
		if found && prior.SampleCount >= MinPriorSamples {
			res.Grams = BlendWithPrior(res.Grams, prior.AvgPortionGrams)
			res.PriorApplied = true
		}
	}

	res.Grams = math.Round(res.Grams)
	return res, nil
}

// ApplyNoteCount computes the preset-implied grams for a counted dish and
// returns them only when they deviate from the detected grams by more than
// the threshold. A small deviation is trusted as the model's visual
// estimate of piece size. Fractional counts ("half a roti") are valid.
func ApplyNoteCount(detectedGrams float64, count float64, food string) (grams float64, applied bool) {
	uw, ok := UnitWeight(food)
	if !ok || count <= 0 {
		return detectedGrams, false
	}
	preset := count * uw
	if detectedGrams <= 0 {
		return preset, true
	}
	if math.Abs(preset-detectedGrams)/detectedGrams > presetDeviationThreshold {
		return preset, true
	}
	return detectedGrams, false
}

// BlendWithPrior mixes the detected grams with the user's historical
// average, rounded to the nearest gram.
func BlendWithPrior(detectedGrams, priorGrams float64) float64 {
	return math.Round(detectedGrams*detectedWeight + priorGrams*priorWeight)
}

// ExpectedGrams is the reference portion for the confidence heuristic: the
// catalog's typical portion when mapped, else the piece preset.
func ExpectedGrams(item mealsense.ReconciledItem, rec mealsense.CanonicalFoodRecord) float64 {
	if item.Mapped && rec.TypicalPortionG > 0 {
		return rec.TypicalPortionG
	}
	if uw, ok := UnitWeight(item.Name); ok {
		return uw
	}
	return 0
}
