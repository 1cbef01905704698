package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

func TestNameAssembledForm_LanguageOrder(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)

	a := f.name(t, e.ID, "",
		types.NamePart{NamePartTypeID: f.given.ID, DisplayForm: "Carl Philipp Emanuel", Order: 1},
		types.NamePart{NamePartTypeID: f.family.ID, DisplayForm: "Bach", Order: 1},
	)

	form, err := f.store.NameAssembledForm(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Carl Philipp Emanuel Bach", form)

	require.NoError(t, f.store.SetLanguageNamePartTypes(f.ctx, f.english.ID, []int64{f.family.ID, f.given.ID}))
	form, err = f.store.NameAssembledForm(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bach Carl Philipp Emanuel", form)
}

func TestCreateNamePart(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)
	a := f.name(t, e.ID, "Sheppard", types.NamePart{NamePartTypeID: f.family.ID, DisplayForm: "Sheppard", Order: 1})

	part, err := f.store.CreateNamePart(f.ctx, a.ID, types.NamePart{NamePartTypeID: f.given.ID, DisplayForm: "Kate", Order: 1})
	require.NoError(t, err)
	assert.NotZero(t, part.ID)

	form, err := f.store.NameAssembledForm(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kate Sheppard", form)

	_, err = f.store.CreateNamePart(f.ctx, a.ID, types.NamePart{NamePartTypeID: f.person.ID, DisplayForm: "x"})
	assert.True(t, errors.Is(err, errors.ErrValidation), "an entity type is not a name part type")

	existence, err := f.store.EntityAssertions(f.ctx, e.ID, types.AssertionExistence)
	require.NoError(t, err)
	_, err = f.store.CreateNamePart(f.ctx, existence[0].ID, types.NamePart{NamePartTypeID: f.given.ID, DisplayForm: "x"})
	assert.Error(t, err)

	require.NoError(t, f.store.RemoveNamePart(f.ctx, part.ID))
	form, err = f.store.NameAssembledForm(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sheppard", form)
}

func TestNameIndex_StaleUntilRefreshed(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)
	a := f.name(t, e.ID, "Kate Sheppard")

	matches, err := f.store.SearchNames(f.ctx, "shep", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, e.ID, matches[0].EntityID)
	assert.Equal(t, "Kate Sheppard", matches[0].Form)

	a.Name.DisplayForm = "Katherine Wilson Malcolm"
	require.NoError(t, f.store.UpdateAssertion(f.ctx, a))

	// The index still reflects the old display form.
	matches, err = f.store.SearchNames(f.ctx, "Malc", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
	matches, err = f.store.SearchNames(f.ctx, "Shep", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	require.NoError(t, f.store.UpdateNameIndex(f.ctx, a.ID))

	matches, err = f.store.SearchNames(f.ctx, "Malc", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	matches, err = f.store.SearchNames(f.ctx, "Shep", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// The cache has not been refreshed yet.
	cached, err := f.store.CachedPreferredName(f.ctx, e.ID, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Kate Sheppard", cached)

	require.NoError(t, f.store.UpdateNameCache(f.ctx, a.ID))
	cached, err = f.store.CachedPreferredName(f.ctx, e.ID, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "Katherine Wilson Malcolm", cached)
}

func TestSearchNames_EscapesWildcards(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)
	f.name(t, e.ID, "100% Pure")
	f.name(t, f.entity(t).ID, "1000 Acres")

	matches, err := f.store.SearchNames(f.ctx, "100%", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, e.ID, matches[0].EntityID)

	matches, err = f.store.SearchNames(f.ctx, "   ", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestPreferredName(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)

	maori, err := f.store.CreateLanguage(f.ctx, "Māori", "mi")
	require.NoError(t, err)
	require.NoError(t, f.store.SetAuthorityItems(f.ctx, f.authority.ID, types.KindLanguage, []int64{f.english.ID, maori.ID}))

	english := f.name(t, e.ID, "Kate Sheppard")
	other, err := f.store.CreateNameAssertion(f.ctx, e.ID, f.authority.ID, types.Name{
		NameTypeID: f.regular.ID, LanguageID: maori.ID, ScriptID: f.latin.ID, DisplayForm: "Kātene Heperā",
	}, false)
	require.NoError(t, err)

	got, err := f.store.PreferredName(f.ctx, e.ID, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, english.ID, got.ID, "is_preferred wins when nothing else is asked for")

	got, err = f.store.PreferredName(f.ctx, e.ID, f.authority.ID, maori.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID, "language match beats the preferred flag")

	cached, err := f.store.CachedPreferredName(f.ctx, e.ID, 0, maori.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Kātene Heperā", cached)

	nameless := f.entity(t)
	_, err = f.store.PreferredName(f.ctx, nameless.ID, 0, 0, 0)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestPreferredName_SingleNameIgnoresFilters(t *testing.T) {
	f := newFixture(t)
	e := f.entity(t)
	only := f.name(t, e.ID, "Kate Sheppard")

	got, err := f.store.PreferredName(f.ctx, e.ID, f.outsider.ID, 999, 999)
	require.NoError(t, err)
	assert.Equal(t, only.ID, got.ID)
}
