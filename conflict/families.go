package conflict

import "strings"

// ExclusionGroup is a set of mutually exclusive dish families. Any pairing
// of terms from two different families of the same group is a name
// conflict; terms within one family are interchangeable spellings.
type ExclusionGroup struct {
	Name     string
	Families [][]string
}

// DefaultExclusionGroups covers the dish confusions the model is known to
// make. Extension is data: add a family or a group.
func DefaultExclusionGroups() []ExclusionGroup {
	return []ExclusionGroup{
		{
			Name: "flatbreads",
			Families: [][]string{
				{"naan"},
				{"roti", "chapati", "phulka"},
				{"paratha"},
				{"puri"},
			},
		},
		{
			Name: "proteins",
			Families: [][]string{
				{"paneer"},
				{"chicken"},
				{"mutton", "lamb"},
				{"fish"},
				{"egg", "anda", "omelette"},
			},
		},
		{
			Name: "rice-dishes",
			Families: [][]string{
				{"biryani"},
				{"pulao"},
				{"fried rice"},
			},
		},
	}
}

// familyIndex returns which family (if any) of the group a text mentions.
// -1 means no term of the group occurs.
func (g ExclusionGroup) familyIndex(text string) int {
	lt := strings.ToLower(text)
	for i, family := range g.Families {
		for _, term := range family {
			if containsTerm(lt, term) {
				return i
			}
		}
	}
	return -1
}

func containsTerm(text, term string) bool {
	idx := strings.Index(text, term)
	for idx >= 0 {
		before := idx == 0 || !isWordChar(rune(text[idx-1]))
		afterIdx := idx + len(term)
		after := afterIdx >= len(text) || !isWordChar(rune(text[afterIdx]))
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], term)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isWordChar(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
