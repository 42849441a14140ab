package normalize

import (
	"strconv"
	"strings"
)

// numeralWords maps written numerals (romanized Hindi, Devanagari and
// English) to their integer values. Only small counts appear in meal notes.
var numeralWords = map[string]int{
	// romanized Hindi
	"ek": 1, "do": 2, "teen": 3, "tin": 3, "char": 4, "chaar": 4,
	"paanch": 5, "panch": 5, "che": 6, "chhe": 6, "saat": 7,
	"aath": 8, "nau": 9, "das": 10, "aadha": 0, // aadha = half, handled below
	// Devanagari words
	"एक": 1, "दो": 2, "तीन": 3, "चार": 4, "पांच": 5, "पाँच": 5,
	"छह": 6, "सात": 7, "आठ": 8, "नौ": 9, "दस": 10,
	// English
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"a": 1, "an": 1, "half": 0,
}

// devanagariZero is the code point for ०; the ten digits are contiguous.
const devanagariZero = '०'

// translateNumerals rewrites native-script digits and written numeral words
// to ASCII integers. "half"/"aadha" becomes 0.5 so downstream quantity
// extraction keeps the fraction.
func translateNumerals(s string) string {
	// Native digits first: a straight offset into the ASCII digit range.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= devanagariZero && r <= devanagariZero+9 {
			b.WriteRune('0' + (r - devanagariZero))
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()

	// Then word numerals, token by token so "do" in "dosa" is untouched.
	fields := strings.Fields(out)
	for i, f := range fields {
		key := strings.ToLower(strings.Trim(f, ",.()"))
		n, ok := numeralWords[key]
		if !ok {
			continue
		}
		if n == 0 { // the half words
			fields[i] = strings.Replace(f, f, "0.5", 1)
			continue
		}
		fields[i] = strings.Replace(f, strings.Trim(f, ",.()"), strconv.Itoa(n), 1)
	}
	return strings.Join(fields, " ")
}
