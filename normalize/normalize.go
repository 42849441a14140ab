// Package normalize implements the context normalizer: language detection,
// numeral translation, synonym substitution and character sanitation for
// short user notes. Every function is a pure function of its inputs and is
// safe to re-run on already-normalized text.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Result is the outcome of normalizing one note. Warning is non-fatal; a
// too-long note is truncated, never rejected.
type Result struct {
	Text      string
	Language  string
	Truncated bool
	Warning   string
}

var (
	// Allow-list: letters of any script, digits, whitespace and + - ( ) , .
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}\s+\-(),.]`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Note normalizes a raw user note against a synonym table. maxLen caps the
// note in runes; zero or negative means no cap.
func Note(raw string, table SynonymTable, maxLen int) Result {
	res := Result{Text: strings.TrimSpace(raw)}

	if maxLen > 0 {
		if runes := []rune(res.Text); len(runes) > maxLen {
			res.Text = strings.TrimSpace(string(runes[:maxLen]))
			res.Truncated = true
			res.Warning = fmt.Sprintf("note longer than %d characters was truncated", maxLen)
		}
	}

	res.Language = DetectLanguage(res.Text)
	res.Text = translateNumerals(res.Text)
	// Two passes settle chained entries (chapati → roti, curd → yogurt).
	res.Text = substituteSynonyms(res.Text, table)
	res.Text = substituteSynonyms(res.Text, table)
	res.Text = disallowedRe.ReplaceAllString(res.Text, "")
	res.Text = strings.TrimSpace(spaceRe.ReplaceAllString(res.Text, " "))
	res.Text = strings.ToLower(res.Text)

	return res
}

// DetectLanguage returns "hi" when the text contains Devanagari code points
// or a known local-unit keyword, else "en".
func DetectLanguage(s string) string {
	for _, r := range s {
		if unicode.Is(unicode.Devanagari, r) {
			return "hi"
		}
	}
	if hasLocalUnitKeyword(s) {
		return "hi"
	}
	return "en"
}

// substituteSynonyms replaces local terms with canonical terms, longest
// local term first so "lady finger" wins over any single-word entry.
func substituteSynonyms(s string, table SynonymTable) string {
	type pair struct{ local, canonical string }
	var pairs []pair
	for _, entries := range table {
		for local, canonical := range entries {
			pairs = append(pairs, pair{local, canonical})
		}
	}
	// Longest-first keeps multi-word terms intact.
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if len(pairs[j].local) > len(pairs[i].local) {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}
	for _, p := range pairs {
		s = replaceWord(s, p.local, p.canonical)
	}
	return s
}

// replaceWord is a word-boundary-safe, case-insensitive replace. Go's \b is
// ASCII-only, so boundaries are expressed as "not letter or digit" to stay
// correct for Devanagari terms.
func replaceWord(s, old, new string) string {
	re, err := regexp.Compile(`(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(old) + `($|[^\p{L}\p{N}])`)
	if err != nil {
		return s
	}
	// Replace repeatedly: adjacent occurrences share boundary characters, so
	// a single pass can miss every other match.
	for {
		replaced := re.ReplaceAllString(s, "${1}"+new+"${2}")
		if replaced == s {
			return s
		}
		s = replaced
	}
}

// containsWord reports whether word occurs in s on word boundaries.
func containsWord(s, word string) bool {
	re, err := regexp.Compile(`(?i)(^|[^\p{L}\p{N}])` + regexp.QuoteMeta(word) + `($|[^\p{L}\p{N}])`)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
