package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNote(t *testing.T) {
	table := DefaultSynonyms()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "numeral words become digits",
			raw:  "do roti and ek bowl dal",
			want: "2 roti and 1 bowl dal",
		},
		{
			name: "devanagari digits become ascii",
			raw:  "२ roti",
			want: "2 roti",
		},
		{
			name: "half words keep the fraction",
			raw:  "aadha roti and half bowl dal",
			want: "0.5 roti and 0.5 bowl dal",
		},
		{
			name: "synonyms replaced on word boundaries",
			raw:  "chawal with dahi",
			want: "rice with yogurt",
		},
		{
			name: "synonym does not fire inside a longer word",
			raw:  "2 dosa", // "do" must not rewrite inside dosa
			want: "2 dosa",
		},
		{
			name: "disallowed characters stripped",
			raw:  "2 roti @home! #dinner",
			want: "2 roti home dinner",
		},
		{
			name: "whitespace collapsed",
			raw:  "  2   roti \t with  dal ",
			want: "2 roti with dal",
		},
		{
			name: "multi word synonym",
			raw:  "lady finger curry",
			want: "okra curry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Note(tt.raw, table, 140)
			assert.Equal(t, tt.want, got.Text)
			assert.False(t, got.Truncated)
			assert.Empty(t, got.Warning)
		})
	}
}

func TestNoteTruncation(t *testing.T) {
	long := strings.Repeat("rice ", 50) // 250 chars
	got := Note(long, DefaultSynonyms(), 140)

	require.True(t, got.Truncated)
	assert.NotEmpty(t, got.Warning)
	assert.LessOrEqual(t, len([]rune(got.Text)), 140)
}

func TestNoteIdempotent(t *testing.T) {
	table := DefaultSynonyms()
	inputs := []string{
		"do roti with dahi",
		"२ कटोरी दाल",
		"1 idli sambar",
		"large bowl of chawal!!",
	}

	for _, in := range inputs {
		once := Note(in, table, 140)
		twice := Note(once.Text, table, 140)
		assert.Equal(t, once.Text, twice.Text, "re-running normalization must be stable for %q", in)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"2 roti with dal", "hi"}, // local-unit keyword
		{"दो रोटी", "hi"},           // script
		{"chicken salad with rice", "en"},
		{"", "en"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.text), tt.text)
	}
}

func TestCanonical(t *testing.T) {
	table := DefaultSynonyms()

	assert.Equal(t, "rice", table.Canonical("Chawal"))
	assert.Equal(t, "roti", table.Canonical("chapati"))
	assert.Equal(t, "yogurt", table.Canonical("dahi")) // chained: dahi → curd → yogurt
	assert.Equal(t, "paneer", table.Canonical("paneer"))
}
