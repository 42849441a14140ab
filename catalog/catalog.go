// Package catalog provides the canonical nutrition catalog: authoritative
// per-100g records loaded from a pluggable state backend and a candidate
// search with region restriction and soft dietary filtering.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mealsense"
	"mealsense/catalog/storage"
)

// document is the on-disk catalog shape.
type document struct {
	Foods []mealsense.CanonicalFoodRecord `json:"foods"`
}

// Repository is an in-memory view over a loaded catalog document. Records
// are read-only after Load; Search is safe for concurrent use.
type Repository struct {
	records []mealsense.CanonicalFoodRecord
}

// Load reads and decodes the catalog from its state backend.
func Load(ctx context.Context, state storage.CatalogState) (*Repository, error) {
	raw, err := state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	return NewRepository(doc.Foods), nil
}

func NewRepository(records []mealsense.CanonicalFoodRecord) *Repository {
	return &Repository{records: records}
}

func (r *Repository) Len() int { return len(r.records) }

// Search returns candidate records whose name (or an alternative name)
// shares a substring or at least one word with the query. When region is
// given only records tagged with it are considered. Dietary filtering is
// soft: if it would empty the candidate set, the unfiltered set is returned.
func (r *Repository) Search(ctx context.Context, name, region string, dietaryTags []string) ([]mealsense.CanonicalFoodRecord, error) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return nil, nil
	}
	queryWords := strings.Fields(query)

	var candidates []mealsense.CanonicalFoodRecord
	for _, rec := range r.records {
		if region != "" && !hasTag(rec.RegionTags, region) {
			continue
		}
		if matchesQuery(rec, query, queryWords) {
			candidates = append(candidates, rec)
		}
	}

	if len(dietaryTags) == 0 {
		return candidates, nil
	}

	var filtered []mealsense.CanonicalFoodRecord
	for _, rec := range candidates {
		if hasAnyTag(rec.DietaryTags, dietaryTags) {
			filtered = append(filtered, rec)
		}
	}
	if len(filtered) == 0 {
		// Soft filter: an empty dietary match falls back to the full set.
		return candidates, nil
	}
	return filtered, nil
}

func matchesQuery(rec mealsense.CanonicalFoodRecord, query string, queryWords []string) bool {
	names := append([]string{rec.Name}, rec.AlternativeNames...)
	for _, n := range names {
		ln := strings.ToLower(n)
		if strings.Contains(ln, query) || strings.Contains(query, ln) {
			return true
		}
		for _, w := range queryWords {
			for _, nw := range strings.Fields(ln) {
				if w == nw {
					return true
				}
			}
		}
	}
	return false
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

func hasAnyTag(tags []string, wanted []string) bool {
	for _, w := range wanted {
		if hasTag(tags, w) {
			return true
		}
	}
	return false
}
