package normalize

import "strings"

// SynonymTable maps local or regional terms to canonical catalog terms,
// keyed by language code ("en", "hi").
type SynonymTable map[string]map[string]string

// DefaultSynonyms covers the common Indian-English and Hindi food vocabulary
// the catalog is keyed on. Callers with their own regional tables can pass
// any SynonymTable; lookups are case-insensitive on the local term.
func DefaultSynonyms() SynonymTable {
	return SynonymTable{
		"en": {
			"chawal":      "rice",
			"dahi":        "curd",
			"curd":        "yogurt",
			"brinjal":     "eggplant",
			"capsicum":    "bell pepper",
			"bhindi":      "okra",
			"lady finger": "okra",
			"atta":        "wheat flour",
			"phulka":      "roti",
			"chapati":     "roti",
			"chapathi":    "roti",
			"subzi":       "vegetable curry",
			"sabzi":       "vegetable curry",
			"anda":        "egg",
			"doodh":       "milk",
			"chai":        "tea",
			"methi":       "fenugreek",
			"palak":       "spinach",
			"aloo":        "potato",
			"gobi":        "cauliflower",
			"pyaz":        "onion",
		},
		"hi": {
			"रोटी":  "roti",
			"चावल":  "rice",
			"दाल":   "dal",
			"दही":   "curd",
			"दूध":   "milk",
			"अंडा":  "egg",
			"पनीर":  "paneer",
			"सब्ज़ी": "vegetable curry",
			"आलू":   "potato",
			"चाय":   "tea",
			"कटोरी": "katori",
			"चम्मच": "spoon",
			"गिलास": "glass",
		},
	}
}

// Canonical resolves a single term through every language of the table,
// returning the canonical form (chasing one level of chained synonyms, e.g.
// chapati → roti) or the lower-cased input unchanged.
func (t SynonymTable) Canonical(term string) string {
	out := strings.ToLower(strings.TrimSpace(term))
	for i := 0; i < 2; i++ { // chained entries like curd → yogurt
		replaced := false
		for _, entries := range t {
			if canonical, ok := entries[out]; ok && canonical != out {
				out = canonical
				replaced = true
				break
			}
		}
		if !replaced {
			break
		}
	}
	return out
}

// localUnitKeywords are romanized serving words whose presence marks the
// note as regional even when the script is Latin.
var localUnitKeywords = []string{"katori", "chammach", "chamach", "roti", "paratha", "thali", "vati", "glass doodh"}

func hasLocalUnitKeyword(s string) bool {
	ls := strings.ToLower(s)
	for _, kw := range localUnitKeywords {
		if containsWord(ls, kw) {
			return true
		}
	}
	return false
}
