package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/artefact/eats/eats/types"
	eatstest "github.com/artefact/eats/internal/testing"
)

const testBaseURL = "http://eats.example.org/"

// fixture is a store with one authority permitting a small vocabulary and a
// second authority permitting nothing.
type fixture struct {
	ctx   context.Context
	store *Store

	authority *types.Authority
	outsider  *types.Authority

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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(eatstest.CreateTestDB(t), testBaseURL, zaptest.NewLogger(t).Sugar())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := newTestStore(t)
	f := &fixture{ctx: ctx, store: s}

	var err error
	f.authority, err = s.CreateAuthority(ctx, "Dictionary of New Zealand Biography")
	require.NoError(t, err)
	f.outsider, err = s.CreateAuthority(ctx, "Outsider")
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
	f.english = mk(s.CreateItem(ctx, types.KindLanguage, "English", ItemOptions{
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

func (f *fixture) entity(t *testing.T) *types.Entity {
	t.Helper()
	e, err := f.store.CreateEntity(f.ctx, f.authority.ID)
	require.NoError(t, err)
	return e
}

func (f *fixture) name(t *testing.T, entityID int64, display string, parts ...types.NamePart) *types.Assertion {
	t.Helper()
	a, err := f.store.CreateNameAssertion(f.ctx, entityID, f.authority.ID, types.Name{
		NameTypeID:  f.regular.ID,
		LanguageID:  f.english.ID,
		ScriptID:    f.latin.ID,
		DisplayForm: display,
		Parts:       parts,
	}, true)
	require.NoError(t, err)
	return a
}

func (f *fixture) count(t *testing.T, table string) int64 {
	t.Helper()
	stats, err := f.store.Stats(f.ctx)
	require.NoError(t, err)
	n, ok := stats[table]
	require.True(t, ok, "no stats for %s", table)
	return n
}
