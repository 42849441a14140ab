package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"mealsense"
)

// IdempotencyKey derives a stable key for one save attempt. Two retries of
// the same analysis hash identically because timestamps are bucketed to the
// minute and nutrition values are rounded before hashing.
func IdempotencyKey(userID string, mealType mealsense.MealType, photoRef string, items []mealsense.ReconciledItem, loggedAt time.Time) string {
	var b strings.Builder

	b.WriteString(userID)
	b.WriteByte('|')
	b.WriteString(string(mealType))
	b.WriteByte('|')
	b.WriteString(photoRef)
	b.WriteByte('|')
	b.WriteString(loggedAt.UTC().Truncate(time.Minute).Format(time.RFC3339))

	for _, it := range items {
		fmt.Fprintf(&b, "|%s:%d:%d:%d:%d:%d",
			it.Name,
			int(math.Round(it.PortionGrams)),
			int(math.Round(it.Calories)),
			int(math.Round(it.Macros.Protein)),
			int(math.Round(it.Macros.Carbs)),
			int(math.Round(it.Macros.Fat)),
		)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
