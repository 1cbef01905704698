package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/artefact/eats/eats/storage"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
	eatstest "github.com/artefact/eats/internal/testing"
)

const dnzb = `
calendars: [Gregorian, Julian]
date_periods: [lifespan]
date_types: [exact, circa]
entity_types: [Person, Place]
name_types: [regular, pseudonym]
name_part_types: [given, family]
entity_relationship_types:
  - name: is parent of
    reverse: is child of
languages:
  - name: English
    code: en
    name_part_types: [given, family]
scripts:
  - name: Latin
    code: Latn
  - name: Han
    code: Hani
    separator: ""
authorities:
  - name: Dictionary of New Zealand Biography
    permit:
      calendars: [Gregorian]
      entity_types: ["*"]
      entity_relationship_types: [is parent of]
      languages: [English]
users:
  - username: jamie
    editable: [Dictionary of New Zealand Biography]
    default_authority: Dictionary of New Zealand Biography
    default_language: English
    default_script: Latin
`

func setup(t *testing.T) (context.Context, *storage.Store) {
	t.Helper()
	return context.Background(),
		storage.NewStore(eatstest.CreateTestDB(t), "http://eats.example.org/", zaptest.NewLogger(t).Sugar())
}

func load(t *testing.T, src string) *Vocabulary {
	t.Helper()
	v, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	return v
}

func TestApply(t *testing.T) {
	ctx, s := setup(t)

	result, err := Apply(ctx, s, load(t, dnzb))
	require.NoError(t, err)
	assert.Equal(t, &Result{Items: 15, Authorities: 1, Users: 1}, result)

	english, err := s.FindItem(ctx, types.KindLanguage, "English", "")
	require.NoError(t, err)
	assert.Equal(t, "en", english.Code)
	require.Len(t, english.NamePartTypes, 2)
	given, err := s.GetItem(ctx, english.NamePartTypes[0])
	require.NoError(t, err)
	assert.Equal(t, "given", given.Name)

	latin, err := s.FindItem(ctx, types.KindScript, "Latin", "")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultSeparator, latin.Separator)
	han, err := s.FindItem(ctx, types.KindScript, "Han", "")
	require.NoError(t, err)
	assert.Equal(t, "", han.Separator)

	parentOf, err := s.FindItem(ctx, types.KindEntityRelationshipType, "is parent of", "is child of")
	require.NoError(t, err)
	assert.Equal(t, "is child of", parentOf.ReverseName)

	authority, err := s.FindAuthority(ctx, "Dictionary of New Zealand Biography")
	require.NoError(t, err)
	calendars, err := s.FilterByAuthority(ctx, types.KindCalendar, authority.ID)
	require.NoError(t, err)
	require.Len(t, calendars, 1)
	assert.Equal(t, "Gregorian", calendars[0].Name)
	entityTypes, err := s.FilterByAuthority(ctx, types.KindEntityType, authority.ID)
	require.NoError(t, err)
	assert.Len(t, entityTypes, 2, "* permits every item of the kind")
	scripts, err := s.FilterByAuthority(ctx, types.KindScript, authority.ID)
	require.NoError(t, err)
	assert.Empty(t, scripts, "kinds not listed permit nothing")

	user, err := s.GetUserByName(ctx, "jamie")
	require.NoError(t, err)
	assert.True(t, user.CanEdit(authority.ID))
	assert.Equal(t, authority.ID, user.DefaultAuthorityID)
	assert.Equal(t, english.ID, user.DefaultLanguageID)
	assert.Equal(t, latin.ID, user.DefaultScriptID)
}

func TestApply_Idempotent(t *testing.T) {
	ctx, s := setup(t)
	v := load(t, dnzb)

	_, err := Apply(ctx, s, v)
	require.NoError(t, err)
	before, err := s.Stats(ctx)
	require.NoError(t, err)

	result, err := Apply(ctx, s, v)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, result)
	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApply_ReplacesPermittedSets(t *testing.T) {
	ctx, s := setup(t)
	_, err := Apply(ctx, s, load(t, dnzb))
	require.NoError(t, err)

	_, err = Apply(ctx, s, load(t, `
calendars: [Islamic]
authorities:
  - name: Dictionary of New Zealand Biography
    permit:
      calendars: [Julian, Islamic]
`))
	require.NoError(t, err)

	authority, err := s.FindAuthority(ctx, "Dictionary of New Zealand Biography")
	require.NoError(t, err)
	calendars, err := s.FilterByAuthority(ctx, types.KindCalendar, authority.ID)
	require.NoError(t, err)
	var names []string
	for _, c := range calendars {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Islamic", "Julian"}, names)

	entityTypes, err := s.FilterByAuthority(ctx, types.KindEntityType, authority.ID)
	require.NoError(t, err)
	assert.Len(t, entityTypes, 2, "kinds the file does not mention are left alone")
}

func TestApply_UnknownNameRollsBack(t *testing.T) {
	ctx, s := setup(t)
	before, err := s.Stats(ctx)
	require.NoError(t, err)

	_, err = Apply(ctx, s, load(t, `
calendars: [Gregorian]
authorities:
  - name: Te Ara
    permit:
      calendars: [Hebrew]
`))
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr bool
	}{
		{name: "empty", src: ""},
		{name: "unknown key", src: "calendar: [Gregorian]", wantErr: true},
		{name: "unknown permit kind", src: "authorities:\n  - name: A\n    permit:\n      people: [x]\n", wantErr: true},
		{name: "authority without name", src: "authorities:\n  - permit: {}\n", wantErr: true},
		{name: "user without username", src: "users:\n  - editable: [A]\n", wantErr: true},
		{name: "not yaml", src: "calendars: [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.src))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
