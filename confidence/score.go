// Package confidence combines per-stage signals into one 0–100 score per
// item using a fixed weighted sum, and renders a short explainability trace.
package confidence

import (
	"fmt"
	"math"

	"mealsense"
)

// Weights of the composite score. Model trust dominates; context is a
// light nudge.
const (
	weightModel   = 0.4
	weightMapping = 0.3
	weightPortion = 0.2
	weightContext = 0.1
)

// Thresholds consumed by the UI: below Verification the item should be
// user-verified, below Warning it is visually flagged.
const (
	VerificationThreshold = 70
	WarningThreshold      = 80
)

// Score folds the factors into an integer in [0,100].
func Score(f mealsense.ConfidenceFactors) int {
	raw := weightModel*f.Model + weightMapping*f.Mapping + weightPortion*f.Portion + weightContext*f.Context
	s := int(math.Round(raw))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// PortionHeuristic buckets the ratio of detected to expected grams. An
// unknown expectation is neutral rather than penalizing.
func PortionHeuristic(detectedGrams, expectedGrams float64) float64 {
	if expectedGrams <= 0 || detectedGrams <= 0 {
		return 80
	}
	ratio := detectedGrams / expectedGrams
	switch {
	case ratio >= 0.8 && ratio <= 1.2:
		return 95
	case ratio >= 0.6 && ratio <= 1.5:
		return 80
	case ratio >= 0.4 && ratio <= 2.0:
		return 60
	default:
		return 40
	}
}

// ContextScore rewards contextual grounding: a supplied region means the
// catalog restriction and synonyms had something to anchor on.
func ContextScore(region string) float64 {
	if region != "" {
		return 90
	}
	return 70
}

// NeedsVerification reports whether the score is below the verification
// threshold.
func NeedsVerification(score int) bool { return score < VerificationThreshold }

// NeedsWarning reports whether the score is below the warning threshold.
func NeedsWarning(score int) bool { return score < WarningThreshold }

// Trace renders one line per factor plus the result. Informational only;
// it never feeds back into the score.
func Trace(f mealsense.ConfidenceFactors, score int) []string {
	return []string{
		fmt.Sprintf("model confidence %.0f × %.1f", f.Model, weightModel),
		fmt.Sprintf("mapping confidence %.0f × %.1f", f.Mapping, weightMapping),
		fmt.Sprintf("portion heuristic %.0f × %.1f", f.Portion, weightPortion),
		fmt.Sprintf("context score %.0f × %.1f", f.Context, weightContext),
		fmt.Sprintf("combined score %d", score),
	}
}
