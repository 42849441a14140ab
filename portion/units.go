package portion

import "strings"

// gramsPerUnit is the static conversion table. Volume units assume a
// water-like density, which is the convention the model output follows.
var gramsPerUnit = map[string]float64{
	"g":    1,
	"kg":   1000,
	"mg":   0.001,
	"ml":   1,
	"l":    1000,
	"cup":  240,
	"tbsp": 15,
	"tsp":  5,
	"oz":   28.35,
	"lb":   453.59,
}

// unitAliases fold common spellings onto table keys.
var unitAliases = map[string]string{
	"gram": "g", "grams": "g", "gm": "g", "gms": "g",
	"kilogram": "kg", "kilograms": "kg",
	"milliliter": "ml", "milliliters": "ml", "millilitre": "ml",
	"liter": "l", "liters": "l", "litre": "l",
	"cups": "cup", "tablespoon": "tbsp", "tablespoons": "tbsp",
	"teaspoon": "tsp", "teaspoons": "tsp", "chammach": "tsp", "chamach": "tsp",
	"ounce": "oz", "ounces": "oz", "pound": "lb", "pounds": "lb",
}

// ToGrams converts a quantity in the given unit to grams. ok is false for
// unknown units (count words like "piece" are handled by presets, not here).
func ToGrams(qty float64, unit string) (grams float64, ok bool) {
	u := normalizeUnit(unit)
	factor, ok := gramsPerUnit[u]
	if !ok {
		return 0, false
	}
	return qty * factor, true
}

// FromGrams converts grams back into the given unit using the same table,
// so conversions round-trip exactly.
func FromGrams(grams float64, unit string) (qty float64, ok bool) {
	u := normalizeUnit(unit)
	factor, ok := gramsPerUnit[u]
	if !ok || factor == 0 {
		return 0, false
	}
	return grams / factor, true
}

func normalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}

// unitWeights are per-piece gram presets for dishes that are counted rather
// than weighed. Keys are canonical (post-synonym) dish names.
var unitWeights = map[string]float64{
	"roti":     30,
	"chapati":  30,
	"phulka":   25,
	"naan":     90,
	"paratha":  50,
	"puri":     20,
	"idli":     40,
	"dosa":     80,
	"vada":     45,
	"samosa":   60,
	"egg":      50,
	"banana":   120,
	"apple":    180,
	"slice":    25, // bread slice
	"biscuit":  10,
	"momo":     35,
	"pakora":   25,
	"gulab jamun": 40,
	"rasgulla": 35,
	"laddu":    40,
}

// containerWeights are nominal gram capacities for portion-size phrases
// ("large bowl of dal").
var containerWeights = map[string]float64{
	"bowl":   150,
	"katori": 120,
	"plate":  200,
	"glass":  250,
	"cup":    240,
	"spoon":  15,
}

// sizeMultipliers scale a container by the spoken size word.
var sizeMultipliers = map[string]float64{
	"small":  0.7,
	"medium": 1.0,
	"large":  1.4,
	"big":    1.4,
	"half":   0.5,
}

// UnitWeight returns the per-piece grams for a counted dish. The lookup is
// word-based so "2 roti with ghee" still resolves roti.
func UnitWeight(food string) (float64, bool) {
	f := strings.ToLower(strings.TrimSpace(food))
	if w, ok := unitWeights[f]; ok {
		return w, true
	}
	for _, word := range strings.Fields(f) {
		if w, ok := unitWeights[strings.TrimSuffix(word, "s")]; ok {
			return w, true
		}
		if w, ok := unitWeights[word]; ok {
			return w, true
		}
	}
	return 0, false
}

// ContainerGrams returns the grams implied by "<size> <container>".
func ContainerGrams(size, container string) (float64, bool) {
	base, ok := containerWeights[strings.ToLower(strings.TrimSpace(container))]
	if !ok {
		return 0, false
	}
	mult := 1.0
	if m, ok := sizeMultipliers[strings.ToLower(strings.TrimSpace(size))]; ok {
		mult = m
	}
	return base * mult, true
}
