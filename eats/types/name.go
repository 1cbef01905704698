package types

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultSeparator joins name part groups when the name has no script.
const DefaultSeparator = " "

// Name is the composite value held by a name assertion.
type Name struct {
	NameTypeID  int64
	LanguageID  int64
	ScriptID    int64
	DisplayForm string
	Parts       []NamePart
}

// NamePart is one typed component of a name. Parts of the same type are
// ordered by Order, then by position in Name.Parts.
type NamePart struct {
	ID             int64
	NamePartTypeID int64
	LanguageID     int64
	ScriptID       int64
	DisplayForm    string
	Order          int
}

// ItemRefs lists the infrastructure the name and its parts point at.
func (n *Name) ItemRefs() []ItemRef {
	refs := []ItemRef{{Field: "name_type", Kind: KindNameType, ID: n.NameTypeID}}
	if n.LanguageID != 0 {
		refs = append(refs, ItemRef{Field: "language", Kind: KindLanguage, ID: n.LanguageID})
	}
	if n.ScriptID != 0 {
		refs = append(refs, ItemRef{Field: "script", Kind: KindScript, ID: n.ScriptID})
	}
	for _, p := range n.Parts {
		refs = append(refs, ItemRef{Field: "name_part_type", Kind: KindNamePartType, ID: p.NamePartTypeID})
		if p.LanguageID != 0 {
			refs = append(refs, ItemRef{Field: "name_part_language", Kind: KindLanguage, ID: p.LanguageID})
		}
		if p.ScriptID != 0 {
			refs = append(refs, ItemRef{Field: "name_part_script", Kind: KindScript, ID: p.ScriptID})
		}
	}
	return refs
}

// OrderedParts returns the parts grouped by type. Groups follow
// typeOrder; types missing from typeOrder come afterwards in the order they
// are first encountered. Within a group parts are sorted by Order, keeping
// their original relative position on ties.
func (n *Name) OrderedParts(typeOrder []int64) [][]NamePart {
	groups := make(map[int64][]NamePart)
	var encountered []int64
	for _, p := range n.Parts {
		if _, seen := groups[p.NamePartTypeID]; !seen {
			encountered = append(encountered, p.NamePartTypeID)
		}
		groups[p.NamePartTypeID] = append(groups[p.NamePartTypeID], p)
	}

	listed := make(map[int64]bool, len(typeOrder))
	sequence := make([]int64, 0, len(encountered))
	for _, id := range typeOrder {
		if listed[id] {
			continue
		}
		listed[id] = true
		if _, ok := groups[id]; ok {
			sequence = append(sequence, id)
		}
	}
	for _, id := range encountered {
		if !listed[id] {
			sequence = append(sequence, id)
		}
	}

	ordered := make([][]NamePart, 0, len(sequence))
	for _, id := range sequence {
		group := groups[id]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Order < group[j].Order })
		ordered = append(ordered, group)
	}
	return ordered
}

// AssembledName renders the name for display. language supplies the name
// part type order and script the group separator; either may be nil.
// Without parts the display form is returned unchanged.
func AssembledName(n *Name, language, script *Item) string {
	if len(n.Parts) == 0 {
		return n.DisplayForm
	}

	var typeOrder []int64
	if language != nil {
		typeOrder = language.NamePartTypes
	}
	separator := DefaultSeparator
	if script != nil {
		separator = script.Separator
	}

	var rendered []string
	for _, group := range n.OrderedParts(typeOrder) {
		var b strings.Builder
		for _, p := range group {
			b.WriteString(p.DisplayForm)
		}
		if b.Len() > 0 {
			rendered = append(rendered, b.String())
		}
	}
	return strings.Join(rendered, separator)
}

// IndexTokens returns the distinct whitespace-separated words of the
// display form and every part, in first-seen order.
func IndexTokens(n *Name) []string {
	seen := make(map[string]bool)
	var tokens []string
	add := func(text string) {
		for _, tok := range strings.Fields(text) {
			if !seen[tok] {
				seen[tok] = true
				tokens = append(tokens, tok)
			}
		}
	}
	add(n.DisplayForm)
	for _, p := range n.Parts {
		add(p.DisplayForm)
	}
	return tokens
}

func (n *Name) signature() string {
	parts := make([]string, 0, len(n.Parts))
	for _, p := range n.Parts {
		parts = append(parts, fmt.Sprintf("%d/%d/%d/%d/%q", p.NamePartTypeID, p.Order, p.LanguageID, p.ScriptID, p.DisplayForm))
	}
	sort.Strings(parts)
	return fmt.Sprintf("nt%d|l%d|s%d|f%q|parts[%s]", n.NameTypeID, n.LanguageID, n.ScriptID, n.DisplayForm, strings.Join(parts, ","))
}

// NameCandidate is the slice of a name assertion that preferred-name
// selection looks at.
type NameCandidate struct {
	AssertionID int64
	AuthorityID int64
	LanguageID  int64
	ScriptID    int64
	IsPreferred bool
}

// SelectPreferredName picks the best candidate for the viewing context.
// Authority match outranks script match, which outranks language match,
// which outranks the preferred flag; zero filters match nothing. Remaining
// ties go to the earliest assertion. A single candidate is always chosen.
// It returns -1 only when candidates is empty.
func SelectPreferredName(candidates []NameCandidate, authorityID, languageID, scriptID int64) int {
	if len(candidates) == 0 {
		return -1
	}
	score := func(c NameCandidate) int {
		s := 0
		if authorityID != 0 && c.AuthorityID == authorityID {
			s += 8
		}
		if scriptID != 0 && c.ScriptID == scriptID {
			s += 4
		}
		if languageID != 0 && c.LanguageID == languageID {
			s += 2
		}
		if c.IsPreferred {
			s++
		}
		return s
	}

	best := 0
	bestScore := score(candidates[0])
	for i := 1; i < len(candidates); i++ {
		s := score(candidates[i])
		if s > bestScore || (s == bestScore && candidates[i].AssertionID < candidates[best].AssertionID) {
			best, bestScore = i, s
		}
	}
	return best
}
