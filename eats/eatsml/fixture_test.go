package eatsml

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/artefact/eats/eats/storage"
	"github.com/artefact/eats/eats/types"
	eatstest "github.com/artefact/eats/internal/testing"
)

// fixture is a store with one authority permitting a small vocabulary,
// some of which no entity uses.
type fixture struct {
	ctx   context.Context
	store *storage.Store

	authority *types.Authority

	person    *types.Item
	place     *types.Item
	parentOf  *types.Item
	regular   *types.Item
	given     *types.Item
	family    *types.Item
	english   *types.Item
	latin     *types.Item
	lifespan  *types.Item
	gregorian *types.Item
	julian    *types.Item
	exact     *types.Item
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	return storage.NewStore(eatstest.CreateTestDB(t), "http://eats.example.org/", zaptest.NewLogger(t).Sugar())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := newStore(t)
	f := &fixture{ctx: ctx, store: s}

	var err error
	f.authority, err = s.CreateAuthority(ctx, "Dictionary of New Zealand Biography")
	require.NoError(t, err)

	mk := func(item *types.Item, err error) *types.Item {
		t.Helper()
		require.NoError(t, err)
		return item
	}
	f.person = mk(s.CreateEntityType(ctx, "Person"))
	f.place = mk(s.CreateEntityType(ctx, "Place"))
	f.parentOf = mk(s.CreateEntityRelationshipType(ctx, "is parent of", "is child of"))
	f.regular = mk(s.CreateNameType(ctx, "regular"))
	f.given = mk(s.CreateNamePartType(ctx, "given"))
	f.family = mk(s.CreateNamePartType(ctx, "family"))
	f.english = mk(s.CreateItem(ctx, types.KindLanguage, "English", storage.ItemOptions{
		Code: "en", NamePartTypes: []int64{f.given.ID, f.family.ID},
	}))
	f.latin = mk(s.CreateScript(ctx, "Latin", "Latn", " "))
	f.lifespan = mk(s.CreateDatePeriod(ctx, "lifespan"))
	f.gregorian = mk(s.CreateCalendar(ctx, "Gregorian"))
	f.julian = mk(s.CreateCalendar(ctx, "Julian"))
	f.exact = mk(s.CreateDateType(ctx, "exact"))

	permit := map[types.Kind][]*types.Item{
		types.KindEntityType:             {f.person, f.place},
		types.KindEntityRelationshipType: {f.parentOf},
		types.KindNameType:               {f.regular},
		types.KindNamePartType:           {f.given, f.family},
		types.KindLanguage:               {f.english},
		types.KindScript:                 {f.latin},
		types.KindDatePeriod:             {f.lifespan},
		types.KindCalendar:               {f.gregorian, f.julian},
		types.KindDateType:               {f.exact},
	}
	for kind, items := range permit {
		ids := make([]int64, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		require.NoError(t, s.SetAuthorityItems(ctx, f.authority.ID, kind, ids))
	}
	return f
}

// sheppards creates Kate Sheppard, with one of every assertion kind, and
// her son Douglas.
func (f *fixture) sheppards(t *testing.T) (kate, douglas *types.Entity) {
	t.Helper()
	s := f.store

	kate, err := s.CreateEntity(f.ctx, f.authority.ID)
	require.NoError(t, err)
	douglas, err = s.CreateEntity(f.ctx, f.authority.ID)
	require.NoError(t, err)

	existence, err := s.EntityAssertions(f.ctx, kate.ID, types.AssertionExistence)
	require.NoError(t, err)
	_, err = s.CreateDate(f.ctx, existence[0].ID, types.DateInput{
		PeriodID: f.lifespan.ID,
		Parts: map[types.Slot]types.DatePart{
			types.SlotStart: {Raw: "10 March 1847", Normalised: "1847-03-10", CalendarID: f.gregorian.ID, DateTypeID: f.exact.ID},
			types.SlotEnd:   {Raw: "13 July 1934", CalendarID: f.gregorian.ID, Certainty: types.CertaintyNone},
		},
	})
	require.NoError(t, err)

	_, err = s.CreateEntityTypeAssertion(f.ctx, kate.ID, f.authority.ID, f.person.ID, true)
	require.NoError(t, err)
	name, err := s.CreateNameAssertion(f.ctx, kate.ID, f.authority.ID, types.Name{
		NameTypeID:  f.regular.ID,
		LanguageID:  f.english.ID,
		ScriptID:    f.latin.ID,
		DisplayForm: "Kate Sheppard",
		Parts: []types.NamePart{
			{NamePartTypeID: f.family.ID, DisplayForm: "Sheppard", Order: 1},
			{NamePartTypeID: f.given.ID, DisplayForm: "Kate", Order: 1},
		},
	}, true)
	require.NoError(t, err)
	_, err = s.AddAssertionNote(f.ctx, name.ID, "Born Catherine Wilson Malcolm", false)
	require.NoError(t, err)
	_, err = s.CreateNoteAssertion(f.ctx, kate.ID, f.authority.ID, "Led the 1893 suffrage petition", false)
	require.NoError(t, err)
	_, err = s.CreateSubjectIdentifierAssertion(f.ctx, kate.ID, f.authority.ID, "http://viaf.org/viaf/40205394")
	require.NoError(t, err)
	require.NoError(t, s.AddSubjectIdentifier(f.ctx, kate.ID, "http://www.wikidata.org/entity/Q275922"))

	_, err = s.CreateNameAssertion(f.ctx, douglas.ID, f.authority.ID, types.Name{
		NameTypeID: f.regular.ID, LanguageID: f.english.ID, ScriptID: f.latin.ID, DisplayForm: "Douglas Sheppard",
	}, true)
	require.NoError(t, err)
	_, err = s.CreateEntityRelationshipAssertion(f.ctx, kate.ID, douglas.ID, f.authority.ID, f.parentOf.ID, "")
	require.NoError(t, err)
	return kate, douglas
}

func parse(t *testing.T, xml string) *etree.Document {
	t.Helper()
	doc, err := ParseDocument(strings.NewReader(xml))
	require.NoError(t, err)
	return doc
}

// byXMLID finds the element with the given xml:id anywhere under root.
func byXMLID(root *etree.Element, id string) *etree.Element {
	if root.SelectAttrValue(attrXMLID, "") == id {
		return root
	}
	for _, child := range root.ChildElements() {
		if found := byXMLID(child, id); found != nil {
			return found
		}
	}
	return nil
}

// describe renders an entity's assertions with infrastructure by name and
// entities through label, so entities in different stores compare equal.
func describe(t *testing.T, s *storage.Store, entityID int64, label func(int64) string) []string {
	t.Helper()
	ctx := context.Background()
	item := func(id int64) string {
		if id == 0 {
			return "-"
		}
		it, err := s.GetItem(ctx, id)
		require.NoError(t, err)
		return it.Label()
	}

	assertions, err := s.EntityAssertions(ctx, entityID, "")
	require.NoError(t, err)
	var lines []string
	for _, a := range assertions {
		authority, err := s.GetAuthority(ctx, a.AuthorityID)
		require.NoError(t, err)

		var b strings.Builder
		fmt.Fprintf(&b, "%s by %s preferred=%t %s", a.Kind, authority.Name, a.IsPreferred, a.Certainty)
		switch a.Kind {
		case types.AssertionEntityType:
			fmt.Fprintf(&b, " %s", item(a.EntityTypeID))
		case types.AssertionName:
			n := a.Name
			fmt.Fprintf(&b, " %s/%s/%s %q", item(n.NameTypeID), item(n.LanguageID), item(n.ScriptID), n.DisplayForm)
			// Export writes parts in assembly order, so compare them as a set.
			var parts []string
			for _, p := range n.Parts {
				parts = append(parts, fmt.Sprintf("%s:%s:%d", item(p.NamePartTypeID), p.DisplayForm, p.Order))
			}
			sort.Strings(parts)
			fmt.Fprintf(&b, " %s", strings.Join(parts, " "))
		case types.AssertionEntityRelationship:
			fmt.Fprintf(&b, " %s %s->%s", item(a.RelationshipTypeID), label(a.EntityID), label(a.RangeEntityID))
		case types.AssertionNote:
			fmt.Fprintf(&b, " %q internal=%t", a.Note, a.IsInternal)
		case types.AssertionSubjectIdentifier:
			fmt.Fprintf(&b, " %s", a.URL)
		}
		for i := range a.Dates {
			d := &a.Dates[i]
			fmt.Fprintf(&b, " [%s %s", item(d.PeriodID), d.AssembledForm())
			for _, slot := range types.Slots {
				if p, ok := d.Part(slot); ok {
					fmt.Fprintf(&b, " %s:%s:%s:%s", slot, item(p.CalendarID), item(p.DateTypeID), p.Normalised)
				}
			}
			b.WriteString("]")
		}
		for _, n := range a.Notes {
			fmt.Fprintf(&b, " note(%q,%t)", n.Text, n.IsInternal)
		}
		lines = append(lines, b.String())
	}

	identifiers, err := s.SubjectIdentifiers(ctx, entityID)
	require.NoError(t, err)
	for _, url := range identifiers {
		lines = append(lines, "identifier "+url)
	}
	sort.Strings(lines)
	return lines
}
