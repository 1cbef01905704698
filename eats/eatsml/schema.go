// Package eatsml converts between the EATS store and EATSML, the XML
// interchange format for entities and their infrastructure.
//
// A document is a <collection> in the EATSML namespace holding one container
// per infrastructure kind, an <authorities> container and an <entities>
// container. Objects that already exist in a store carry their numeric id in
// eats_id; objects to be created on import omit it. In-document references
// use xml:id on the target and a ref (or a named attribute such as
// authority="authority-3") on the pointer.
package eatsml

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/artefact/eats/eats/types"
)

// Namespace is the EATSML XML namespace.
const Namespace = "http://eats.artefact.org.nz/ns/eatsml/"

// Element names.
const (
	elCollection    = "collection"
	elAuthorities   = "authorities"
	elAuthority     = "authority"
	elEntities      = "entities"
	elEntity        = "entity"
	elName          = "name"
	elReverseName   = "reverse_name"
	elCode          = "code"
	elIdentifiers   = "identifiers"
	elIdentifier    = "identifier"
	elAssembledForm = "assembled_form"
	elDisplayForm   = "display_form"
	elNameParts     = "name_parts"
	elNamePart      = "name_part"
	elText          = "text"
	elDates         = "dates"
	elDate          = "date"
	elDateParts     = "date_parts"
	elDatePart      = "date_part"
	elRaw           = "raw"
	elNormalised    = "normalised"
	elNotes         = "notes"
	elNote          = "note"
)

// Attribute names.
const (
	attrXMLID         = "xml:id"
	attrEATSID        = "eats_id"
	attrRef           = "ref"
	attrURL           = "url"
	attrRelatedEntity = "related_entity"
	attrSeparator     = "separator"
	attrAuthority     = "authority"
	attrIsPreferred   = "is_preferred"
	attrUserPreferred = "user_preferred"
	attrCertainty     = "certainty"
	attrIsInternal    = "is_internal"
	attrDomainEntity  = "domain_entity"
	attrRangeEntity   = "range_entity"
	attrOrder         = "order"
	attrType          = "type"
	attrCalendar      = "calendar"
	attrDateType      = "date_type"
	attrDatePeriod    = "date_period"
	attrEntityType    = "entity_type"
	attrRelType       = "entity_relationship_type"
	attrNameType      = "name_type"
	attrNamePartType  = "name_part_type"
	attrLanguage      = "language"
	attrScript        = "script"
)

// creationOrder is the order infrastructure is created on import. Languages
// refer to name part types, so those come first.
var creationOrder = []types.Kind{
	types.KindCalendar,
	types.KindDatePeriod,
	types.KindDateType,
	types.KindEntityRelationshipType,
	types.KindEntityType,
	types.KindNamePartType,
	types.KindLanguage,
	types.KindNameType,
	types.KindScript,
}

// assertionContainer maps an assertion kind to its element names inside
// <entity>.
type assertionContainer struct {
	kind      types.AssertionKind
	container string
	element   string
}

var assertionContainers = []assertionContainer{
	{types.AssertionExistence, "existences", "existence"},
	{types.AssertionEntityType, "entity_types", "entity_type"},
	{types.AssertionName, "names", "name"},
	{types.AssertionEntityRelationship, "entity_relationships", "entity_relationship"},
	{types.AssertionNote, "notes", "note"},
	{types.AssertionSubjectIdentifier, "subject_identifiers", "subject_identifier"},
}

func containerFor(kind types.AssertionKind) assertionContainer {
	for _, c := range assertionContainers {
		if c.kind == kind {
			return c
		}
	}
	panic("eatsml: no container for assertion kind " + string(kind))
}

// xmlID is the stable in-document id of an existing object.
func xmlID(kind string, id int64) string {
	return kind + "-" + strconv.FormatInt(id, 10)
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func newDocument() (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement(elCollection)
	root.CreateAttr("xmlns", Namespace)
	return doc, root
}

// container returns parent's child named tag, creating it if needed.
func container(parent *etree.Element, tag string) *etree.Element {
	if el := parent.SelectElement(tag); el != nil {
		return el
	}
	return parent.CreateElement(tag)
}

func childText(el *etree.Element, tag string) string {
	if child := el.SelectElement(tag); child != nil {
		return child.Text()
	}
	return ""
}
