package eatsml

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// refKey names an in-document object: its kind (an infrastructure kind,
// "authority" or "entity") and its xml:id.
type refKey struct {
	kind string
	id   string
}

// refAttrKinds maps pointer attributes to the kind of object they name.
// The ref attribute is absent: its kind is the element's own tag.
var refAttrKinds = map[string]string{
	attrAuthority:    elAuthority,
	attrDomainEntity: elEntity,
	attrRangeEntity:  elEntity,
	attrEntityType:   string(types.KindEntityType),
	attrRelType:      string(types.KindEntityRelationshipType),
	attrNameType:     string(types.KindNameType),
	attrNamePartType: string(types.KindNamePartType),
	attrLanguage:     string(types.KindLanguage),
	attrScript:       string(types.KindScript),
	attrDatePeriod:   string(types.KindDatePeriod),
	attrCalendar:     string(types.KindCalendar),
	attrDateType:     string(types.KindDateType),
}

// collectRefs adds every reference made by el or its descendants.
func collectRefs(el *etree.Element, refs map[refKey]bool) {
	for _, a := range el.Attr {
		if a.Space != "" {
			continue
		}
		if a.Key == attrRef {
			refs[refKey{el.Tag, a.Value}] = true
		} else if kind, ok := refAttrKinds[a.Key]; ok {
			refs[refKey{kind, a.Value}] = true
		}
	}
	for _, child := range el.ChildElements() {
		collectRefs(child, refs)
	}
}

// Validate checks that doc is structurally valid EATSML: known elements in
// known places, well-formed ids and flags, the fields new objects need, and
// every reference pointing at an object declared in the document.
func Validate(doc *etree.Document) error {
	root := doc.Root()
	if root == nil || root.Tag != elCollection || root.NamespaceURI() != Namespace {
		return errors.NewEATSMLError(elCollection, "document root must be <collection> in namespace %s", Namespace)
	}

	v := &validator{declared: make(map[refKey]bool)}
	for _, child := range root.ChildElements() {
		switch child.Tag {
		case elAuthorities:
			v.authorities(child)
		case elEntities:
			v.entities(child)
		default:
			kind, err := types.ParseKind(trimPlural(child.Tag))
			if err != nil {
				return errors.NewEATSMLError(child.Tag, "unexpected element in <collection>")
			}
			v.infrastructure(kind, child)
		}
		if v.err != nil {
			return v.err
		}
	}

	refs := make(map[refKey]bool)
	collectRefs(root, refs)
	for ref := range refs {
		if !v.declared[ref] {
			return errors.NewEATSMLError(ref.kind, "reference to undeclared %s %q", ref.kind, ref.id)
		}
	}
	return nil
}

func trimPlural(tag string) string {
	if n := len(tag); n > 1 && tag[n-1] == 's' {
		return tag[:n-1]
	}
	return tag
}

// validator records the first problem found.
type validator struct {
	declared map[refKey]bool
	err      error
}

func (v *validator) fail(el *etree.Element, format string, args ...interface{}) {
	if v.err == nil {
		v.err = errors.NewEATSMLError(el.Tag, format, args...)
	}
}

// declare checks el's identity attributes and records its xml:id. It
// reports whether el describes a new object.
func (v *validator) declare(kind string, el *etree.Element) bool {
	id := el.SelectAttrValue(attrXMLID, "")
	if id == "" {
		v.fail(el, "missing xml:id")
		return false
	}
	key := refKey{kind, id}
	if v.declared[key] {
		v.fail(el, "duplicate xml:id %q", id)
	}
	v.declared[key] = true

	_, ok, err := eatsID(el)
	if err != nil {
		v.fail(el, "%v", err)
	}
	return !ok
}

func (v *validator) infrastructure(kind types.Kind, parent *etree.Element) {
	for _, el := range parent.ChildElements() {
		if el.Tag != string(kind) {
			v.fail(el, "unexpected element in <%s>", parent.Tag)
			return
		}
		if v.declare(string(kind), el) && childText(el, elName) == "" {
			v.fail(el, "new %s %q has no name", kind, el.SelectAttrValue(attrXMLID, ""))
		}
		if kind == types.KindLanguage {
			if order := el.SelectElement(types.KindNamePartType.Plural()); order != nil {
				v.refList(types.KindNamePartType, order)
			}
		}
	}
}

// refList checks a container of ref-only pointers such as
// <calendars><calendar ref="calendar-1"/></calendars>.
func (v *validator) refList(kind types.Kind, parent *etree.Element) {
	for _, el := range parent.ChildElements() {
		if el.Tag != string(kind) || el.SelectAttrValue(attrRef, "") == "" {
			v.fail(el, "<%s> must hold only <%s ref=\"...\"/> elements", parent.Tag, kind)
			return
		}
	}
}

func (v *validator) authorities(parent *etree.Element) {
	for _, el := range parent.ChildElements() {
		if el.Tag != elAuthority {
			v.fail(el, "unexpected element in <%s>", parent.Tag)
			return
		}
		if v.declare(elAuthority, el) && childText(el, elName) == "" {
			v.fail(el, "new authority %q has no name", el.SelectAttrValue(attrXMLID, ""))
		}
		for _, child := range el.ChildElements() {
			if child.Tag == elName {
				continue
			}
			kind, err := types.ParseKind(trimPlural(child.Tag))
			if err != nil {
				v.fail(child, "unexpected element in <authority>")
				return
			}
			v.refList(kind, child)
		}
	}
}

func (v *validator) entities(parent *etree.Element) {
	for _, el := range parent.ChildElements() {
		if el.Tag != elEntity {
			v.fail(el, "unexpected element in <%s>", parent.Tag)
			return
		}
		v.declare(elEntity, el)
		v.boolAttr(el, attrRelatedEntity)

		for _, child := range el.ChildElements() {
			if child.Tag == elIdentifiers {
				continue
			}
			c, ok := containerByTag(child.Tag)
			if !ok {
				v.fail(child, "unexpected element in <entity>")
				return
			}
			for _, a := range child.ChildElements() {
				if a.Tag != c.element {
					v.fail(a, "unexpected element in <%s>", c.container)
					return
				}
				if _, existing, err := eatsID(a); err != nil {
					v.fail(a, "%v", err)
				} else if !existing {
					v.assertion(c.kind, a)
				}
			}
		}
	}
}

func containerByTag(tag string) (assertionContainer, bool) {
	for _, c := range assertionContainers {
		if c.container == tag {
			return c, true
		}
	}
	return assertionContainer{}, false
}

func (v *validator) assertion(kind types.AssertionKind, el *etree.Element) {
	v.requireAttr(el, attrAuthority)
	v.boolAttr(el, attrIsPreferred)
	v.certaintyAttr(el)

	switch kind {
	case types.AssertionEntityType:
		v.requireAttr(el, attrEntityType)
	case types.AssertionName:
		v.requireAttr(el, attrNameType)
		parts := el.SelectElement(elNameParts)
		if childText(el, elDisplayForm) == "" && (parts == nil || len(parts.ChildElements()) == 0) {
			v.fail(el, "name has neither a display form nor name parts")
		}
		if parts != nil {
			for _, p := range parts.ChildElements() {
				v.requireAttr(p, attrNamePartType)
				if order := p.SelectAttrValue(attrOrder, ""); order != "" {
					if _, err := strconv.Atoi(order); err != nil {
						v.fail(p, "order %q is not an integer", order)
					}
				}
			}
		}
	case types.AssertionEntityRelationship:
		v.requireAttr(el, attrRelType)
		v.requireAttr(el, attrDomainEntity)
		v.requireAttr(el, attrRangeEntity)
	case types.AssertionNote:
		v.boolAttr(el, attrIsInternal)
		if childText(el, elText) == "" {
			v.fail(el, "note has no text")
		}
	case types.AssertionSubjectIdentifier:
		v.requireAttr(el, attrURL)
	case types.AssertionExistence:
	}

	if dates := el.SelectElement(elDates); dates != nil {
		for _, d := range dates.SelectElements(elDate) {
			v.date(d)
		}
	}
	if notes := el.SelectElement(elNotes); notes != nil {
		for _, n := range notes.SelectElements(elNote) {
			v.boolAttr(n, attrIsInternal)
		}
	}
}

func (v *validator) date(el *etree.Element) {
	v.requireAttr(el, attrDatePeriod)
	parts := el.SelectElement(elDateParts)
	if parts == nil {
		return
	}
	seen := make(map[types.Slot]bool)
	for _, p := range parts.SelectElements(elDatePart) {
		slot, err := types.ParseSlot(p.SelectAttrValue(attrType, ""))
		if err != nil {
			v.fail(p, "%v", err)
			continue
		}
		if seen[slot] {
			v.fail(p, "date has more than one %s part", slot)
		}
		seen[slot] = true
		if childText(p, elRaw) == "" {
			v.fail(p, "%s part has no raw text", slot)
		}
		v.certaintyAttr(p)
	}
}

func (v *validator) requireAttr(el *etree.Element, attr string) {
	if el.SelectAttrValue(attr, "") == "" {
		v.fail(el, "missing %s attribute", attr)
	}
}

func (v *validator) boolAttr(el *etree.Element, attr string) {
	if a := el.SelectAttr(attr); a != nil {
		if _, err := parseBool(a.Value); err != nil {
			v.fail(el, "%s: %v", attr, err)
		}
	}
}

func (v *validator) certaintyAttr(el *etree.Element) {
	if _, err := types.ParseCertainty(el.SelectAttrValue(attrCertainty, "")); err != nil {
		v.fail(el, "%v", err)
	}
}

// eatsID reads el's eats_id. ok is false when the attribute is absent.
func eatsID(el *etree.Element) (id int64, ok bool, err error) {
	a := el.SelectAttr(attrEATSID)
	if a == nil {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(a.Value, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, errors.Newf("eats_id %q is not a positive integer", a.Value)
	}
	return id, true, nil
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, errors.Newf("%q is not \"true\" or \"false\"", s)
}
