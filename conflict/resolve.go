package conflict

import (
	"errors"

	"mealsense"
)

// ErrAlreadyResolved guards the resolved-at-most-once invariant.
var ErrAlreadyResolved = errors.New("conflict already resolved")

// Apply resolves one conflict against its item. Picking the model leaves
// the item unchanged; picking the note rescales grams and macros from the
// note-derived value and marks the note influence. Name conflicts carry no
// grams here; the caller re-resolves identity and then calls Apply to
// finalize the resolution state.
func Apply(c *mealsense.ConflictRecord, item *mealsense.ReconciledItem, choice mealsense.ConflictResolution) error {
	if c.Resolution != mealsense.ResolutionUnresolved {
		return ErrAlreadyResolved
	}
	if choice != mealsense.ResolutionModel && choice != mealsense.ResolutionNote {
		return errors.New("resolution must pick model or note")
	}

	c.Resolution = choice
	if choice == mealsense.ResolutionModel {
		return nil
	}

	switch c.Type {
	case mealsense.ConflictQuantity, mealsense.ConflictPortion:
		if c.NoteGrams > 0 {
			item.RescaleTo(c.NoteGrams)
		}
		item.NoteInfluence = item.NoteInfluence.Merge(mealsense.InfluencePortion)
	case mealsense.ConflictName:
		item.NoteInfluence = item.NoteInfluence.Merge(mealsense.InfluenceName)
	}
	return nil
}
