package eatsml

import (
	"bytes"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

func refs(el *etree.Element) []string {
	var out []string
	for _, child := range el.ChildElements() {
		out = append(out, child.SelectAttrValue(attrRef, ""))
	}
	return out
}

func names(container *etree.Element) []string {
	var out []string
	for _, child := range container.ChildElements() {
		out = append(out, childText(child, elName))
	}
	return out
}

func TestExportEntities(t *testing.T) {
	f := newFixture(t)
	kate, douglas := f.sheppards(t)

	doc, err := NewExporter(f.store, nil).ExportEntities(f.ctx, []int64{kate.ID}, nil)
	require.NoError(t, err)
	require.NoError(t, Validate(doc))

	root := doc.Root()
	assert.Equal(t, Namespace, root.NamespaceURI())

	t.Run("authority lists only used items", func(t *testing.T) {
		authorities := root.SelectElement(elAuthorities).SelectElements(elAuthority)
		require.Len(t, authorities, 1)
		a := authorities[0]
		assert.Equal(t, xmlID(elAuthority, f.authority.ID), a.SelectAttrValue(attrXMLID, ""))
		assert.Equal(t, f.authority.Name, childText(a, elName))
		assert.Equal(t, []string{xmlID("calendar", f.gregorian.ID)}, refs(a.SelectElement("calendars")))
		assert.Equal(t, []string{xmlID("entity_type", f.person.ID)}, refs(a.SelectElement("entity_types")))
	})

	t.Run("infrastructure emitted once and sorted", func(t *testing.T) {
		assert.Equal(t, []string{"Gregorian"}, names(root.SelectElement("calendars")))
		assert.Equal(t, []string{"Person"}, names(root.SelectElement("entity_types")))
		assert.Equal(t, []string{"family", "given"}, names(root.SelectElement("name_part_types")))

		english := byXMLID(root, xmlID("language", f.english.ID))
		require.NotNil(t, english)
		assert.Equal(t, "en", childText(english, elCode))
		assert.Equal(t, []string{
			xmlID("name_part_type", f.given.ID),
			xmlID("name_part_type", f.family.ID),
		}, refs(english.SelectElement("name_part_types")))

		latin := byXMLID(root, xmlID("script", f.latin.ID))
		require.NotNil(t, latin)
		assert.Equal(t, " ", latin.SelectAttrValue(attrSeparator, ""))

		rel := byXMLID(root, xmlID("entity_relationship_type", f.parentOf.ID))
		require.NotNil(t, rel)
		assert.Equal(t, "is child of", childText(rel, elReverseName))
	})

	t.Run("entity", func(t *testing.T) {
		el := byXMLID(root, xmlID(elEntity, kate.ID))
		require.NotNil(t, el)
		assert.Equal(t, kate.URL, el.SelectAttrValue(attrURL, ""))
		assert.Equal(t, "http://www.wikidata.org/entity/Q275922", childText(el.SelectElement(elIdentifiers), elIdentifier))

		var containers []string
		for _, child := range el.ChildElements() {
			containers = append(containers, child.Tag)
		}
		assert.Equal(t, []string{elIdentifiers, "existences", "entity_types", "names",
			"entity_relationships", "notes", "subject_identifiers"}, containers)

		name := el.SelectElement("names").SelectElement("name")
		assert.Equal(t, "true", name.SelectAttrValue(attrIsPreferred, ""))
		assert.Equal(t, "Kate Sheppard", childText(name, elAssembledForm))
		assert.Equal(t, "Kate Sheppard", childText(name, elDisplayForm))
		parts := name.SelectElement(elNameParts).SelectElements(elNamePart)
		require.Len(t, parts, 2)
		assert.Equal(t, "Kate", parts[0].Text(), "parts follow the language's order")
		assert.Equal(t, xmlID("name_part_type", f.given.ID), parts[0].SelectAttrValue(attrNamePartType, ""))
		assert.Equal(t, "Born Catherine Wilson Malcolm", childText(name.SelectElement(elNotes), elNote))

		date := el.SelectElement("existences").SelectElement("existence").SelectElement(elDates).SelectElement(elDate)
		assert.Equal(t, "10 March 1847 – 13 July 1934?", childText(date, elAssembledForm))
		dateParts := date.SelectElement(elDateParts).SelectElements(elDatePart)
		require.Len(t, dateParts, 2)
		assert.Equal(t, "start", dateParts[0].SelectAttrValue(attrType, ""))
		assert.Equal(t, "1847-03-10", childText(dateParts[0], elNormalised))
		assert.Equal(t, "none", dateParts[1].SelectAttrValue(attrCertainty, ""))
		assert.Nil(t, dateParts[1].SelectAttr(attrDateType))

		rel := el.SelectElement("entity_relationships").SelectElement("entity_relationship")
		assert.Equal(t, xmlID(elEntity, kate.ID), rel.SelectAttrValue(attrDomainEntity, ""))
		assert.Equal(t, xmlID(elEntity, douglas.ID), rel.SelectAttrValue(attrRangeEntity, ""))

		subject := el.SelectElement("subject_identifiers").SelectElement("subject_identifier")
		assert.Equal(t, "http://viaf.org/viaf/40205394", subject.SelectAttrValue(attrURL, ""))
	})

	t.Run("related entity stub", func(t *testing.T) {
		stub := byXMLID(root, xmlID(elEntity, douglas.ID))
		require.NotNil(t, stub)
		assert.Equal(t, "true", stub.SelectAttrValue(attrRelatedEntity, ""))
		assert.Empty(t, stub.ChildElements(), "relationships of related entities are not followed")
	})
}

func TestExportEntities_Deterministic(t *testing.T) {
	f := newFixture(t)
	kate, douglas := f.sheppards(t)
	x := NewExporter(f.store, nil)

	render := func(ids ...int64) string {
		doc, err := x.ExportEntities(f.ctx, ids, nil)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, WriteDocument(&buf, doc, false))
		return buf.String()
	}

	first := render(kate.ID, douglas.ID)
	assert.Equal(t, first, render(douglas.ID, kate.ID, kate.ID))

	doc := parse(t, first)
	assert.Len(t, doc.FindElements("//entity_relationship"), 1, "a relationship between two exported entities is written once")
	assert.Empty(t, doc.FindElements("//entity[@related_entity]"))
}

func TestExportEntities_MergedEntity(t *testing.T) {
	f := newFixture(t)
	kate, douglas := f.sheppards(t)

	other, err := f.store.CreateEntity(f.ctx, f.authority.ID)
	require.NoError(t, err)
	_, err = f.store.MergeEntities(f.ctx, douglas.ID, other.ID)
	require.NoError(t, err)

	_, err = NewExporter(f.store, nil).ExportEntities(f.ctx, []int64{kate.ID, other.ID}, nil)
	require.Error(t, err)
	newID, ok := errors.MergedInto(err)
	require.True(t, ok)
	assert.Equal(t, douglas.ID, newID)
}

func TestExportEntities_UserPreferredName(t *testing.T) {
	f := newFixture(t)
	kate, _ := f.sheppards(t)

	_, err := f.store.CreateNameAssertion(f.ctx, kate.ID, f.authority.ID, types.Name{
		NameTypeID: f.regular.ID, LanguageID: f.english.ID, DisplayForm: "Katherine Sheppard",
	}, false)
	require.NoError(t, err)

	user := &types.User{
		Username:           "jamie",
		DefaultAuthorityID: f.authority.ID,
		DefaultLanguageID:  f.english.ID,
		DefaultScriptID:    f.latin.ID,
	}
	doc, err := NewExporter(f.store, nil).ExportEntities(f.ctx, []int64{kate.ID}, user)
	require.NoError(t, err)

	marked := doc.FindElements("//name[@user_preferred='true']")
	require.Len(t, marked, 1)
	assert.Equal(t, "Kate Sheppard", childText(marked[0], elDisplayForm))
}

func TestExportFull(t *testing.T) {
	f := newFixture(t)
	f.sheppards(t)
	_, err := f.store.CreateCalendar(f.ctx, "Islamic")
	require.NoError(t, err)

	doc, err := NewExporter(f.store, nil).ExportFull(f.ctx)
	require.NoError(t, err)
	require.NoError(t, Validate(doc))

	root := doc.Root()
	assert.Equal(t, []string{"Gregorian", "Islamic", "Julian"}, names(root.SelectElement("calendars")))
	assert.Equal(t, []string{"Person", "Place"}, names(root.SelectElement("entity_types")))
	authority := root.SelectElement(elAuthorities).SelectElement(elAuthority)
	assert.Len(t, refs(authority.SelectElement("calendars")), 2, "unpermitted items are not listed under the authority")
	assert.Len(t, root.SelectElement(elEntities).SelectElements(elEntity), 2)
	assert.Len(t, doc.FindElements("//entity_relationship"), 1)
	assert.Empty(t, doc.FindElements("//entity[@related_entity]"))
}

func TestExportInfrastructure(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CreateCalendar(f.ctx, "Islamic")
	require.NoError(t, err)
	_, err = f.store.CreateAuthority(f.ctx, "Te Ara")
	require.NoError(t, err)
	x := NewExporter(f.store, nil)

	doc, err := x.ExportInfrastructure(f.ctx, nil)
	require.NoError(t, err)
	assert.Len(t, doc.Root().SelectElement(elAuthorities).SelectElements(elAuthority), 2)
	assert.Equal(t, []string{"Gregorian", "Islamic", "Julian"}, names(doc.Root().SelectElement("calendars")))
	assert.Nil(t, doc.Root().SelectElement(elEntities))

	user := &types.User{Username: "jamie", EditableAuthorities: []int64{f.authority.ID}}
	doc, err = x.ExportInfrastructure(f.ctx, user)
	require.NoError(t, err)
	require.NoError(t, Validate(doc))
	authorities := doc.Root().SelectElement(elAuthorities).SelectElements(elAuthority)
	require.Len(t, authorities, 1)
	assert.Equal(t, f.authority.Name, childText(authorities[0], elName))
	assert.Equal(t, []string{"Gregorian", "Julian"}, names(doc.Root().SelectElement("calendars")))

	doc, err = x.ExportInfrastructure(f.ctx, &types.User{Username: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, doc.Root().ChildElements())
}

func TestWriteDocument_Compressed(t *testing.T) {
	f := newFixture(t)
	kate, _ := f.sheppards(t)

	doc, err := NewExporter(f.store, nil).ExportEntities(f.ctx, []int64{kate.ID}, nil)
	require.NoError(t, err)

	var plain, compressed bytes.Buffer
	require.NoError(t, WriteDocument(&plain, doc, false))
	require.NoError(t, WriteDocument(&compressed, doc, true))
	assert.True(t, bytes.HasPrefix(compressed.Bytes(), zstdMagic))

	parsed, err := ParseDocument(&compressed)
	require.NoError(t, err)
	var again bytes.Buffer
	require.NoError(t, WriteDocument(&again, parsed, false))
	assert.Equal(t, plain.String(), again.String())
}
