// Package conflict compares note-derived expectations against the model's
// reconciled output: quantity mismatches, portion-size mismatches, and
// mutually exclusive dish identities.
package conflict

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"mealsense"
	"mealsense/portion"
)

// quantityDeviationThreshold: a note count and model portion disagree when
// they differ by more than 25% relative to the note expectation.
const quantityDeviationThreshold = 0.25

var (
	// "<n> <unit-or-piece> <food>", on already-normalized text.
	quantityRe = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(pieces?|pcs?|plates?|bowls?|glass(?:es)?|katori|cups?|slices?)?\s+([a-z][a-z ]*?)(?:\s+(?:and|with|,)|[,.]|$)`)

	// "<size> <container> of <food>".
	portionRe = regexp.MustCompile(`(?i)\b(small|medium|large|big|half)\s+(bowl|plate|glass|cup|katori|spoon)\s+(?:of\s+)?([a-z][a-z ]*?)(?:\s+(?:and|with|,)|[,.]|$)`)
)

type Detector struct {
	groups []ExclusionGroup
}

func NewDetector(groups []ExclusionGroup) *Detector {
	if groups == nil {
		groups = DefaultExclusionGroups()
	}
	return &Detector{groups: groups}
}

// ParseQuantities extracts structured "<n> <unit> <food>" mentions from a
// normalized note.
func ParseQuantities(note string) []mealsense.NoteQuantity {
	var out []mealsense.NoteQuantity
	for _, m := range quantityRe.FindAllStringSubmatch(note, -1) {
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil || n <= 0 {
			continue
		}
		food := strings.TrimSpace(m[3])
		if food == "" {
			continue
		}
		out = append(out, mealsense.NoteQuantity{
			Count: n,
			Unit:  strings.ToLower(strings.TrimSpace(m[2])),
			Food:  food,
		})
	}
	return out
}

// Detect compares the normalized note against the reconciled items and
// returns every conflict found, all initially unresolved.
func (d *Detector) Detect(note string, items []mealsense.ReconciledItem) []mealsense.ConflictRecord {
	if strings.TrimSpace(note) == "" || len(items) == 0 {
		return nil
	}

	var conflicts []mealsense.ConflictRecord
	conflicts = append(conflicts, d.quantityConflicts(note, items)...)
	conflicts = append(conflicts, d.portionConflicts(note, items)...)
	conflicts = append(conflicts, d.nameConflicts(note, items)...)
	return conflicts
}

func (d *Detector) quantityConflicts(note string, items []mealsense.ReconciledItem) []mealsense.ConflictRecord {
	var out []mealsense.ConflictRecord
	for _, q := range ParseQuantities(note) {
		item := matchItem(q.Food, items)
		if item == nil {
			continue
		}
		uw, ok := portion.UnitWeight(q.Food)
		if !ok {
			continue
		}
		expected := q.Count * uw
		if expected <= 0 {
			continue
		}
		if math.Abs(item.PortionGrams-expected)/expected > quantityDeviationThreshold {
			out = append(out, mealsense.ConflictRecord{
				ItemName:   item.Name,
				Type:       mealsense.ConflictQuantity,
				ModelValue: math.Round(item.PortionGrams / uw),
				NoteValue:  q.Count,
				NoteTerm:   q.Food,
				NoteGrams:  expected,
				Resolution: mealsense.ResolutionUnresolved,
			})
		}
	}
	return out
}

func (d *Detector) portionConflicts(note string, items []mealsense.ReconciledItem) []mealsense.ConflictRecord {
	var out []mealsense.ConflictRecord
	for _, m := range portionRe.FindAllStringSubmatch(note, -1) {
		size, container, food := m[1], m[2], strings.TrimSpace(m[3])
		item := matchItem(food, items)
		if item == nil {
			continue
		}
		expected, ok := portion.ContainerGrams(size, container)
		if !ok || expected <= 0 {
			continue
		}
		if math.Abs(item.PortionGrams-expected)/expected > quantityDeviationThreshold {
			out = append(out, mealsense.ConflictRecord{
				ItemName:   item.Name,
				Type:       mealsense.ConflictPortion,
				ModelValue: item.PortionGrams,
				NoteValue:  expected,
				NoteTerm:   food,
				NoteGrams:  expected,
				Resolution: mealsense.ResolutionUnresolved,
			})
		}
	}
	return out
}

func (d *Detector) nameConflicts(note string, items []mealsense.ReconciledItem) []mealsense.ConflictRecord {
	var out []mealsense.ConflictRecord
	for _, item := range items {
		for _, g := range d.groups {
			itemFam := g.familyIndex(item.Name)
			if itemFam < 0 {
				continue
			}
			noteFam := g.familyIndex(note)
			if noteFam < 0 || noteFam == itemFam {
				continue
			}
			out = append(out, mealsense.ConflictRecord{
				ItemName:   item.Name,
				Type:       mealsense.ConflictName,
				NoteTerm:   g.Families[noteFam][0],
				Resolution: mealsense.ResolutionUnresolved,
			})
		}
	}
	return out
}

// matchItem finds the reconciled item a note term refers to, by either-way
// containment on word boundaries.
func matchItem(term string, items []mealsense.ReconciledItem) *mealsense.ReconciledItem {
	lt := strings.ToLower(strings.TrimSpace(term))
	for i := range items {
		ln := strings.ToLower(items[i].Name)
		if ln == lt || containsTerm(ln, lt) || containsTerm(lt, ln) {
			return &items[i]
		}
	}
	return nil
}
