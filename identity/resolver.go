// Package identity maps detected food names onto canonical catalog records
// using synonym normalization and a small fuzzy score: exact match,
// substring containment, then proportional word overlap.
package identity

import (
	"context"
	"fmt"
	"strings"

	"mealsense"
	"mealsense/normalize"
)

const (
	scoreExact     = 100.0
	scoreSubstring = 80.0
	maxOverlap     = 60.0

	// ConfidenceUnmapped is the floor used when no record matches; the
	// pipeline keeps the raw model macros in that case.
	ConfidenceUnmapped = 40
)

// Match is the outcome of resolving one detected name.
type Match struct {
	Record     mealsense.CanonicalFoodRecord
	Score      float64
	Confidence int
	Found      bool
	Query      string // canonicalized name actually searched
}

type Resolver struct {
	catalog  mealsense.CatalogSearcher
	synonyms normalize.SynonymTable
}

func NewResolver(catalog mealsense.CatalogSearcher, synonyms normalize.SynonymTable) *Resolver {
	return &Resolver{catalog: catalog, synonyms: synonyms}
}

// Resolve finds the best catalog record for a detected name. A missing
// match is not an error: Found=false with the unmapped confidence floor.
func (r *Resolver) Resolve(ctx context.Context, name, region string, dietaryPrefs []string) (Match, error) {
	query := r.synonyms.Canonical(name)

	candidates, err := r.catalog.Search(ctx, query, region, dietaryPrefs)
	if err != nil {
		return Match{}, fmt.Errorf("catalog search for %q: %w", query, err)
	}

	best := Match{Query: query, Confidence: ConfidenceUnmapped}
	for _, rec := range candidates {
		s := MatchScore(query, rec)
		if s > best.Score {
			best = Match{Record: rec, Score: s, Found: true, Query: query}
		}
	}
	if best.Found {
		best.Confidence = confidenceFromScore(best.Score)
	}
	return best, nil
}

// MatchScore scores a query against one record: exact name = 100, substring
// containment = 80, else proportional word overlap up to 60. Alternative
// names count the same as the primary name.
func MatchScore(query string, rec mealsense.CanonicalFoodRecord) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	queryWords := strings.Fields(query)

	var best float64
	for _, name := range append([]string{rec.Name}, rec.AlternativeNames...) {
		name = strings.ToLower(strings.TrimSpace(name))

		var s float64
		switch {
		case name == query:
			s = scoreExact
		case strings.Contains(name, query) || strings.Contains(query, name):
			s = scoreSubstring
		default:
			s = overlapScore(queryWords, strings.Fields(name))
		}
		if s > best {
			best = s
		}
	}
	return best
}

func overlapScore(queryWords, nameWords []string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	matched := 0
	for _, qw := range queryWords {
		for _, nw := range nameWords {
			if qw == nw {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(queryWords)) * maxOverlap
}

func confidenceFromScore(score float64) int {
	switch {
	case score >= 90:
		return 95
	case score >= 70:
		return 85
	case score >= 50:
		return 70
	default:
		return 60
	}
}
