package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

func TestCreateEntity(t *testing.T) {
	f := newFixture(t)

	e := f.entity(t)
	assert.Equal(t, types.EntityURL(testBaseURL, e.ID), e.URL)

	existence, err := f.store.EntityAssertions(f.ctx, e.ID, types.AssertionExistence)
	require.NoError(t, err)
	require.Len(t, existence, 1)
	assert.Equal(t, f.authority.ID, existence[0].AuthorityID)
	assert.False(t, existence[0].IsPreferred)
	assert.Equal(t, types.CertaintyFull, existence[0].Certainty)

	bare, err := f.store.CreateEntity(f.ctx, 0)
	require.NoError(t, err)
	all, err := f.store.EntityAssertions(f.ctx, bare.ID, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	loaded, err := f.store.GetEntity(f.ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.URL, loaded.URL)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestCreateEntity_UnknownAuthorityCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.CreateEntity(f.ctx, 4242)
	require.True(t, errors.IsNotFoundError(err))

	ids, err := f.store.ListEntityIDs(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGetEntity_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.GetEntity(f.ctx, 77)
	assert.True(t, errors.IsNotFoundError(err))
	assert.False(t, errors.Is(err, errors.ErrMergedIdentifier))
}

func TestCreateAssertion_AuthorityScoping(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)
	other := f.entity(t)

	tests := []struct {
		name   string
		create func() error
		kind   types.AssertionKind
	}{
		{"entity type", func() error {
			_, err := f.store.CreateEntityTypeAssertion(f.ctx, e.ID, f.outsider.ID, f.person.ID, false)
			return err
		}, types.AssertionEntityType},
		{"name type", func() error {
			_, err := f.store.CreateNameAssertion(f.ctx, e.ID, f.outsider.ID, types.Name{
				NameTypeID: f.regular.ID, DisplayForm: "Kate Sheppard",
			}, true)
			return err
		}, types.AssertionName},
		{"name part language", func() error {
			latinLanguage, err := f.store.CreateLanguage(f.ctx, "Latin", "la")
			require.NoError(t, err)
			_, err = f.store.CreateNameAssertion(f.ctx, e.ID, f.authority.ID, types.Name{
				NameTypeID: f.regular.ID,
				Parts:      []types.NamePart{{NamePartTypeID: f.given.ID, LanguageID: latinLanguage.ID, DisplayForm: "Catharina"}},
			}, true)
			return err
		}, types.AssertionName},
		{"relationship type", func() error {
			_, err := f.store.CreateEntityRelationshipAssertion(f.ctx, e.ID, other.ID, f.outsider.ID, f.parentOf.ID, types.CertaintyFull)
			return err
		}, types.AssertionEntityRelationship},
		{"date calendar", func() error {
			_, err := f.store.CreateAssertion(f.ctx, &types.Assertion{
				Kind: types.AssertionEntityType, EntityID: e.ID, AuthorityID: f.authority.ID, EntityTypeID: f.person.ID,
				Dates: []types.Date{{PeriodID: f.lifespan.ID, Parts: map[types.Slot]types.DatePart{
					types.SlotPoint: {Raw: "1847", CalendarID: f.person.ID},
				}}},
			})
			return err
		}, types.AssertionEntityType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := f.store.EntityAssertions(f.ctx, e.ID, tt.kind)
			require.NoError(t, err)

			err = tt.create()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)

			after, err := f.store.EntityAssertions(f.ctx, e.ID, tt.kind)
			require.NoError(t, err)
			assert.Len(t, after, len(before))
		})
	}
	assert.Zero(t, f.count(t, "dates"))
	assert.Zero(t, f.count(t, "names"))
}

func TestCreateAssertion_AllKinds(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)

	et, err := f.store.CreateEntityTypeAssertion(f.ctx, e.ID, f.authority.ID, f.person.ID, true)
	require.NoError(t, err)
	assert.True(t, et.IsPreferred)

	note, err := f.store.CreateNoteAssertion(f.ctx, e.ID, f.authority.ID, "Suffragist.", true)
	require.NoError(t, err)
	assert.True(t, note.IsInternal)

	si, err := f.store.CreateSubjectIdentifierAssertion(f.ctx, e.ID, f.authority.ID, " http://viaf.org/viaf/1 ")
	require.NoError(t, err)
	assert.Equal(t, "http://viaf.org/viaf/1", si.URL)

	name := f.name(t, e.ID, "Kate Sheppard")
	loaded, err := f.store.GetAssertion(f.ctx, name.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Name)
	assert.Equal(t, "Kate Sheppard", loaded.Name.DisplayForm)
	assert.Equal(t, f.english.ID, loaded.Name.LanguageID)

	all, err := f.store.EntityAssertions(f.ctx, e.ID, "")
	require.NoError(t, err)
	var kinds []types.AssertionKind
	for _, a := range all {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []types.AssertionKind{
		types.AssertionExistence, types.AssertionEntityType, types.AssertionNote,
		types.AssertionSubjectIdentifier, types.AssertionName,
	}, kinds)
}

func TestEntityRelationships_DualVisibility(t *testing.T) {
	f := newFixture(t)
	a := f.entity(t)
	b := f.entity(t)
	c := f.entity(t)

	rel, err := f.store.CreateEntityRelationshipAssertion(f.ctx, a.ID, b.ID, f.authority.ID, f.parentOf.ID, types.CertaintyNone)
	require.NoError(t, err)

	for _, id := range []int64{a.ID, b.ID} {
		rels, err := f.store.EntityRelationships(f.ctx, id)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, rel.ID, rels[0].ID)
		assert.Equal(t, types.CertaintyNone, rels[0].Certainty)
	}

	rels, err := f.store.EntityRelationships(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	// Owned only by the domain entity.
	owned, err := f.store.EntityAssertions(f.ctx, b.ID, types.AssertionEntityRelationship)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestEntityRelationship_SelfLoop(t *testing.T) {
	f := newFixture(t)
	a := f.entity(t)

	_, err := f.store.CreateEntityRelationshipAssertion(f.ctx, a.ID, a.ID, f.authority.ID, f.parentOf.ID, "")
	assert.True(t, errors.Is(err, errors.ErrIllegalRelationship))

	b := f.entity(t)
	rel, err := f.store.CreateEntityRelationshipAssertion(f.ctx, a.ID, b.ID, f.authority.ID, f.parentOf.ID, "")
	require.NoError(t, err)

	rel.RangeEntityID = a.ID
	err = f.store.UpdateAssertion(f.ctx, rel)
	assert.True(t, errors.Is(err, errors.ErrIllegalRelationship))
}

func TestUpdateAssertion(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)

	et, err := f.store.CreateEntityTypeAssertion(f.ctx, e.ID, f.authority.ID, f.person.ID, false)
	require.NoError(t, err)

	et.EntityTypeID = f.place.ID
	et.IsPreferred = true
	require.NoError(t, f.store.UpdateAssertion(f.ctx, et))

	loaded, err := f.store.GetAssertion(f.ctx, et.ID)
	require.NoError(t, err)
	assert.Equal(t, f.place.ID, loaded.EntityTypeID)
	assert.True(t, loaded.IsPreferred)

	// Moving to an authority that does not permit the type fails and changes nothing.
	loaded.AuthorityID = f.outsider.ID
	err = f.store.UpdateAssertion(f.ctx, loaded)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	again, err := f.store.GetAssertion(f.ctx, et.ID)
	require.NoError(t, err)
	assert.Equal(t, f.authority.ID, again.AuthorityID)

	// Kind cannot change.
	again.Kind = types.AssertionNote
	again.Note = "x"
	assert.Error(t, f.store.UpdateAssertion(f.ctx, again))
}

func TestUpdateAssertion_NameKeepsParts(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)

	a := f.name(t, e.ID, "", types.NamePart{NamePartTypeID: f.family.ID, DisplayForm: "Sheppard", Order: 1})
	a.Name.DisplayForm = "Kate Sheppard"
	a.Name.Parts = nil
	require.NoError(t, f.store.UpdateAssertion(f.ctx, a))

	loaded, err := f.store.GetAssertion(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kate Sheppard", loaded.Name.DisplayForm)
	require.Len(t, loaded.Name.Parts, 1)
	assert.Equal(t, "Sheppard", loaded.Name.Parts[0].DisplayForm)
}

func TestRemoveAssertion_Cascades(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)

	a := f.name(t, e.ID, "Kate Sheppard", types.NamePart{NamePartTypeID: f.given.ID, DisplayForm: "Kate"})
	_, err := f.store.CreateDate(f.ctx, a.ID, types.DateInput{
		PeriodID: f.lifespan.ID,
		Parts:    map[types.Slot]types.DatePart{types.SlotStart: {Raw: "1847", CalendarID: f.gregorian.ID}},
	})
	require.NoError(t, err)
	_, err = f.store.AddAssertionNote(f.ctx, a.ID, "From her death certificate.", false)
	require.NoError(t, err)

	require.NoError(t, f.store.RemoveAssertion(f.ctx, a.ID))

	for _, table := range []string{"names", "name_parts", "name_index", "name_cache", "dates", "date_parts", "assertion_notes"} {
		assert.Zero(t, f.count(t, table), table)
	}
	_, err = f.store.GetAssertion(f.ctx, a.ID)
	assert.True(t, errors.IsNotFoundError(err))
	assert.True(t, errors.IsNotFoundError(f.store.RemoveAssertion(f.ctx, a.ID)))
}

func TestDeleteEntity_Cascades(t *testing.T) {
	f := newFixture(t)
	a := f.entity(t)
	b := f.entity(t)

	f.name(t, a.ID, "Kate Sheppard")
	_, err := f.store.CreateEntityRelationshipAssertion(f.ctx, b.ID, a.ID, f.authority.ID, f.parentOf.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.store.AddSubjectIdentifier(f.ctx, a.ID, "http://example.org/kate"))

	require.NoError(t, f.store.DeleteEntity(f.ctx, a.ID))

	_, err = f.store.GetEntity(f.ctx, a.ID)
	assert.True(t, errors.IsNotFoundError(err))

	// b keeps only its existence assertion; the relationship ranged over a.
	remaining, err := f.store.EntityAssertions(f.ctx, b.ID, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, types.AssertionExistence, remaining[0].Kind)

	assert.Equal(t, int64(1), f.count(t, "property_assertions"))
	assert.Zero(t, f.count(t, "names"))
	assert.Zero(t, f.count(t, "name_index"))
}

func TestAssertionNotes(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)

	a, err := f.store.CreateAssertion(f.ctx, &types.Assertion{
		Kind: types.AssertionEntityType, EntityID: e.ID, AuthorityID: f.authority.ID, EntityTypeID: f.person.ID,
		Notes: []types.NoteAttachment{{Text: "Checked against census.", IsInternal: true}},
	})
	require.NoError(t, err)
	require.Len(t, a.Notes, 1)
	assert.NotZero(t, a.Notes[0].ID)

	_, err = f.store.AddAssertionNote(f.ctx, a.ID, "Second note.", false)
	require.NoError(t, err)

	notes, err := f.store.AssertionNotes(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.True(t, notes[0].IsInternal)
	assert.Equal(t, "Second note.", notes[1].Text)

	require.NoError(t, f.store.RemoveAssertionNote(f.ctx, notes[0].ID))
	notes, err = f.store.AssertionNotes(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	_, err = f.store.AddAssertionNote(f.ctx, a.ID, "  ", false)
	assert.Error(t, err)
}
