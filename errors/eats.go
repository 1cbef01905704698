package errors

import "fmt"

// Sentinels for the EATS taxonomy. The typed errors below unwrap to these,
// so callers can match with Is and inspect details with As.
var (
	ErrDuplicateName       = New("duplicate name")
	ErrValidation          = New("authority validation failed")
	ErrEATSML              = New("invalid EATSML")
	ErrMergedIdentifier    = New("entity has been merged")
	ErrIllegalRelationship = New("illegal relationship")
)

// DuplicateNameError is returned when an infrastructure item or authority
// with the same uniqueness key already exists. Nothing is persisted.
type DuplicateNameError struct {
	Kind        string
	Name        string
	ReverseName string
}

func (e *DuplicateNameError) Error() string {
	if e.ReverseName != "" {
		return fmt.Sprintf("%s %q / %q already exists", e.Kind, e.Name, e.ReverseName)
	}
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// ValidationError reports a reference to an infrastructure item the
// authority does not permit.
type ValidationError struct {
	Field       string
	ItemID      int64
	AuthorityID int64
	Reason      string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %d is not permitted by authority %d", e.Field, e.ItemID, e.AuthorityID)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for an item outside the
// authority's permitted set.
func NewValidationError(field string, itemID, authorityID int64) error {
	return WithStack(&ValidationError{Field: field, ItemID: itemID, AuthorityID: authorityID})
}

// NewValidationErrorf builds a ValidationError with a free-form reason.
func NewValidationErrorf(field, format string, args ...interface{}) error {
	return WithStack(&ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// EATSMLError reports a malformed document, a schema violation or an
// unresolvable cross-reference during import.
type EATSMLError struct {
	Element string
	Reason  string
}

func (e *EATSMLError) Error() string {
	if e.Element == "" {
		return "eatsml: " + e.Reason
	}
	return fmt.Sprintf("eatsml: <%s>: %s", e.Element, e.Reason)
}

func (e *EATSMLError) Unwrap() error { return ErrEATSML }

// NewEATSMLError builds an EATSMLError.
func NewEATSMLError(element, format string, args ...interface{}) error {
	return WithStack(&EATSMLError{Element: element, Reason: fmt.Sprintf(format, args...)})
}

// MergedIdentifierError is returned when a lookup targets an entity that
// was folded into another. NewID is the surviving entity; callers redirect.
type MergedIdentifierError struct {
	OldID int64
	NewID int64
}

func (e *MergedIdentifierError) Error() string {
	return fmt.Sprintf("entity %d has been merged into entity %d", e.OldID, e.NewID)
}

func (e *MergedIdentifierError) Unwrap() error { return ErrMergedIdentifier }

// MergedInto extracts the surviving entity id from err.
func MergedInto(err error) (int64, bool) {
	var merged *MergedIdentifierError
	if As(err, &merged) {
		return merged.NewID, true
	}
	return 0, false
}

// NewIllegalRelationshipError reports a self-referencing or otherwise
// inconsistent entity relationship.
func NewIllegalRelationshipError(format string, args ...interface{}) error {
	return Wrap(ErrIllegalRelationship, fmt.Sprintf(format, args...))
}
