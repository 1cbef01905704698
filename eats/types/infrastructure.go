package types

import (
	"slices"

	"github.com/artefact/eats/errors"
)

// Kind identifies one of the infrastructure vocabularies.
type Kind string

const (
	KindCalendar               Kind = "calendar"
	KindDatePeriod             Kind = "date_period"
	KindDateType               Kind = "date_type"
	KindEntityRelationshipType Kind = "entity_relationship_type"
	KindEntityType             Kind = "entity_type"
	KindLanguage               Kind = "language"
	KindNamePartType           Kind = "name_part_type"
	KindNameType               Kind = "name_type"
	KindScript                 Kind = "script"
)

// Kinds lists every infrastructure kind in EATSML document order.
var Kinds = []Kind{
	KindCalendar,
	KindDatePeriod,
	KindDateType,
	KindEntityRelationshipType,
	KindEntityType,
	KindLanguage,
	KindNamePartType,
	KindNameType,
	KindScript,
}

// Valid reports whether k is a known infrastructure kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// Plural returns the EATSML container element name for the kind.
func (k Kind) Plural() string {
	return string(k) + "s"
}

// ParseKind converts s to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", errors.Newf("unknown infrastructure kind %q", s)
	}
	return k, nil
}

// Item is a named vocabulary entry. Kind-specific fields are zero for
// kinds that do not use them.
type Item struct {
	ID   int64
	Kind Kind
	Name string

	// ReverseName is the relationship read from range to domain
	// (entity relationship types only).
	ReverseName string

	// Code is the ISO code of a language or script.
	Code string

	// Separator joins name part groups (scripts only).
	Separator string

	// NamePartTypes is a language's name part assembly order.
	NamePartTypes []int64
}

// Label is the human-facing form of the item.
func (i Item) Label() string {
	if i.Kind == KindEntityRelationshipType && i.ReverseName != "" {
		return i.Name + " / " + i.ReverseName
	}
	return i.Name
}

// Authority is an institution or source whose assertions are kept apart
// from other authorities' and which permits a subset of each vocabulary.
type Authority struct {
	ID   int64
	Name string
}

// User is an editor. The defaults drive preferred-name selection when
// exporting on the user's behalf.
type User struct {
	ID                  int64
	Username            string
	DefaultAuthorityID  int64
	DefaultLanguageID   int64
	DefaultScriptID     int64
	EditableAuthorities []int64
}

// CanEdit reports whether the user may create assertions under authorityID.
func (u *User) CanEdit(authorityID int64) bool {
	return u != nil && slices.Contains(u.EditableAuthorities, authorityID)
}

// ItemRef names a reference from an assertion (or a date part) to an
// infrastructure item, for authority-scoping checks and export collection.
type ItemRef struct {
	Field string
	Kind  Kind
	ID    int64
}
