package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/artefact/eats/errors"
)

// Entity is an identity-bearing record. URL is its durable subject identifier.
type Entity struct {
	ID        int64
	URL       string
	CreatedAt time.Time
}

// EntityURL builds the canonical subject identifier for an entity id.
func EntityURL(baseURL string, id int64) string {
	return strings.TrimRight(baseURL, "/") + "/entity/" + strconv.FormatInt(id, 10) + "/"
}

// AssertionKind selects which variant an Assertion holds.
type AssertionKind string

const (
	AssertionExistence          AssertionKind = "existence"
	AssertionEntityType         AssertionKind = "entity_type"
	AssertionName               AssertionKind = "name"
	AssertionEntityRelationship AssertionKind = "entity_relationship"
	AssertionNote               AssertionKind = "note"
	AssertionSubjectIdentifier  AssertionKind = "subject_identifier"
)

// AssertionKinds lists the variants in EATSML document order.
var AssertionKinds = []AssertionKind{
	AssertionExistence,
	AssertionEntityType,
	AssertionName,
	AssertionEntityRelationship,
	AssertionNote,
	AssertionSubjectIdentifier,
}

// Valid reports whether k is a known assertion kind.
func (k AssertionKind) Valid() bool {
	for _, known := range AssertionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Assertion is a claim by one authority about an entity. Only the payload
// fields of its Kind are meaningful; ids of zero mean "not set".
type Assertion struct {
	ID          int64
	Kind        AssertionKind
	EntityID    int64 // owning entity; the domain entity for relationships
	AuthorityID int64
	IsPreferred bool
	Certainty   Certainty

	// entity_type
	EntityTypeID int64

	// name
	Name *Name

	// entity_relationship
	RelationshipTypeID int64
	RangeEntityID      int64

	// note
	Note       string
	IsInternal bool

	// subject_identifier
	URL string

	Dates []Date
	Notes []NoteAttachment
}

// NoteAttachment is a free-text note hanging off an assertion.
type NoteAttachment struct {
	ID         int64
	Text       string
	IsInternal bool
}

// Validate checks the variant's shape. It does not check authority scoping,
// which needs the store.
func (a *Assertion) Validate() error {
	if a.EntityID == 0 {
		return errors.New("assertion has no entity")
	}
	if a.AuthorityID == 0 {
		return errors.New("assertion has no authority")
	}
	if _, err := ParseCertainty(string(a.Certainty)); err != nil {
		return errors.Wrap(err, "assertion certainty")
	}

	switch a.Kind {
	case AssertionExistence:
		return nil
	case AssertionEntityType:
		if a.EntityTypeID == 0 {
			return errors.New("entity type assertion requires an entity type")
		}
	case AssertionName:
		if a.Name == nil {
			return errors.New("name assertion requires a name")
		}
		if a.Name.NameTypeID == 0 {
			return errors.New("name assertion requires a name type")
		}
		if a.Name.DisplayForm == "" && len(a.Name.Parts) == 0 {
			return errors.New("name requires a display form or name parts")
		}
		for _, part := range a.Name.Parts {
			if part.NamePartTypeID == 0 {
				return errors.New("name part requires a name part type")
			}
		}
	case AssertionEntityRelationship:
		if a.RelationshipTypeID == 0 {
			return errors.New("entity relationship assertion requires a relationship type")
		}
		if a.RangeEntityID == 0 {
			return errors.New("entity relationship assertion requires a range entity")
		}
		if a.RangeEntityID == a.EntityID {
			return errors.NewIllegalRelationshipError("entity %d cannot be related to itself", a.EntityID)
		}
	case AssertionNote:
		if a.Note == "" {
			return errors.New("note assertion requires note text")
		}
	case AssertionSubjectIdentifier:
		if a.URL == "" {
			return errors.New("subject identifier assertion requires a URL")
		}
	default:
		return errors.Newf("unknown assertion kind %q", a.Kind)
	}
	return nil
}

// ItemRefs lists every infrastructure item the assertion's own fields point
// at. Date references are listed by Date.ItemRefs.
func (a *Assertion) ItemRefs() []ItemRef {
	var refs []ItemRef
	switch a.Kind {
	case AssertionEntityType:
		refs = append(refs, ItemRef{Field: "entity_type", Kind: KindEntityType, ID: a.EntityTypeID})
	case AssertionName:
		if a.Name != nil {
			refs = append(refs, a.Name.ItemRefs()...)
		}
	case AssertionEntityRelationship:
		refs = append(refs, ItemRef{Field: "entity_relationship_type", Kind: KindEntityRelationshipType, ID: a.RelationshipTypeID})
	case AssertionExistence, AssertionNote, AssertionSubjectIdentifier:
	}
	return refs
}

// Signature is a canonical rendering of everything that makes two
// assertions the same claim: kind, authority, flags, payload, notes and
// dates. The owning entity and the assertion id are excluded, so two
// entities' assertions can be compared during a merge.
func (a *Assertion) Signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|a%d|p%t|c%s", a.Kind, a.AuthorityID, a.IsPreferred, a.Certainty.OrFull())

	switch a.Kind {
	case AssertionEntityType:
		fmt.Fprintf(&b, "|t%d", a.EntityTypeID)
	case AssertionName:
		if a.Name != nil {
			b.WriteString("|" + a.Name.signature())
		}
	case AssertionEntityRelationship:
		fmt.Fprintf(&b, "|r%d|d%d|g%d", a.RelationshipTypeID, a.EntityID, a.RangeEntityID)
	case AssertionNote:
		fmt.Fprintf(&b, "|n%q|i%t", a.Note, a.IsInternal)
	case AssertionSubjectIdentifier:
		fmt.Fprintf(&b, "|u%q", a.URL)
	case AssertionExistence:
	}

	notes := make([]string, 0, len(a.Notes))
	for _, n := range a.Notes {
		notes = append(notes, fmt.Sprintf("%q:%t", n.Text, n.IsInternal))
	}
	sort.Strings(notes)
	b.WriteString("|notes[" + strings.Join(notes, ",") + "]")

	dates := make([]string, 0, len(a.Dates))
	for _, d := range a.Dates {
		dates = append(dates, d.signature())
	}
	sort.Strings(dates)
	b.WriteString("|dates[" + strings.Join(dates, ",") + "]")

	return b.String()
}
