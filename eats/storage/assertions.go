package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

const assertionColumns = `id, kind, entity_id, authority_id, is_preferred, certainty,
	entity_type_id, relationship_type_id, range_entity_id, note, is_internal, url`

// CreateExistenceAssertion asserts that the entity exists.
func (s *Store) CreateExistenceAssertion(ctx context.Context, entityID, authorityID int64) (*types.Assertion, error) {
	return s.CreateAssertion(ctx, &types.Assertion{
		Kind:        types.AssertionExistence,
		EntityID:    entityID,
		AuthorityID: authorityID,
	})
}

// CreateEntityTypeAssertion asserts the entity's type.
func (s *Store) CreateEntityTypeAssertion(ctx context.Context, entityID, authorityID, entityTypeID int64, isPreferred bool) (*types.Assertion, error) {
	return s.CreateAssertion(ctx, &types.Assertion{
		Kind:         types.AssertionEntityType,
		EntityID:     entityID,
		AuthorityID:  authorityID,
		EntityTypeID: entityTypeID,
		IsPreferred:  isPreferred,
	})
}

// CreateNameAssertion asserts a name. The name's search index and cache
// entries are built as part of creation.
func (s *Store) CreateNameAssertion(ctx context.Context, entityID, authorityID int64, name types.Name, isPreferred bool) (*types.Assertion, error) {
	return s.CreateAssertion(ctx, &types.Assertion{
		Kind:        types.AssertionName,
		EntityID:    entityID,
		AuthorityID: authorityID,
		Name:        &name,
		IsPreferred: isPreferred,
	})
}

// CreateEntityRelationshipAssertion relates the domain entity to the range entity.
func (s *Store) CreateEntityRelationshipAssertion(ctx context.Context, domainID, rangeID, authorityID, relationshipTypeID int64, certainty types.Certainty) (*types.Assertion, error) {
	return s.CreateAssertion(ctx, &types.Assertion{
		Kind:               types.AssertionEntityRelationship,
		EntityID:           domainID,
		RangeEntityID:      rangeID,
		AuthorityID:        authorityID,
		RelationshipTypeID: relationshipTypeID,
		Certainty:          certainty,
	})
}

// CreateNoteAssertion attaches a note to the entity.
func (s *Store) CreateNoteAssertion(ctx context.Context, entityID, authorityID int64, note string, isInternal bool) (*types.Assertion, error) {
	return s.CreateAssertion(ctx, &types.Assertion{
		Kind:        types.AssertionNote,
		EntityID:    entityID,
		AuthorityID: authorityID,
		Note:        note,
		IsInternal:  isInternal,
	})
}

// CreateSubjectIdentifierAssertion asserts an external URL denoting the entity.
func (s *Store) CreateSubjectIdentifierAssertion(ctx context.Context, entityID, authorityID int64, url string) (*types.Assertion, error) {
	return s.CreateAssertion(ctx, &types.Assertion{
		Kind:        types.AssertionSubjectIdentifier,
		EntityID:    entityID,
		AuthorityID: authorityID,
		URL:         strings.TrimSpace(url),
	})
}

// CreateAssertion validates and persists a, including its name, dates and
// notes. Every referenced infrastructure item must be permitted by the
// assertion's authority; otherwise a ValidationError is returned and nothing
// is created.
func (s *Store) CreateAssertion(ctx context.Context, a *types.Assertion) (*types.Assertion, error) {
	var created *types.Assertion
	err := s.WithTx(ctx, func(tx *Store) error {
		var err error
		created, err = tx.createAssertion(ctx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("Created assertion",
		"assertion_id", created.ID, "kind", created.Kind,
		"entity_id", created.EntityID, "authority_id", created.AuthorityID)
	return created, nil
}

func (s *Store) createAssertion(ctx context.Context, in *types.Assertion) (*types.Assertion, error) {
	a := *in
	a.Certainty = a.Certainty.OrFull()
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkAssertionTargets(ctx, &a); err != nil {
		return nil, err
	}
	if err := s.checkItemRefs(ctx, a.AuthorityID, a.ItemRefs()); err != nil {
		return nil, err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO property_assertions (kind, entity_id, authority_id, is_preferred, certainty,
			entity_type_id, relationship_type_id, range_entity_id, note, is_internal, url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Kind, a.EntityID, a.AuthorityID, boolInt(a.IsPreferred), a.Certainty,
		nullID(a.EntityTypeID), nullID(a.RelationshipTypeID), nullID(a.RangeEntityID),
		a.Note, boolInt(a.IsInternal), a.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "insert %s assertion for entity %d", a.Kind, a.EntityID)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "read assertion id")
	}

	if a.Kind == types.AssertionName {
		name := *a.Name
		name.Parts = nil
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO names (assertion_id, name_type_id, language_id, script_id, display_form)
			VALUES (?, ?, ?, ?, ?)`,
			a.ID, name.NameTypeID, nullID(name.LanguageID), nullID(name.ScriptID), name.DisplayForm); err != nil {
			return nil, errors.Wrapf(err, "insert name for assertion %d", a.ID)
		}
		for _, part := range a.Name.Parts {
			created, err := s.insertNamePart(ctx, a.ID, part)
			if err != nil {
				return nil, err
			}
			name.Parts = append(name.Parts, *created)
		}
		a.Name = &name
	}

	dates := a.Dates
	a.Dates = nil
	for _, d := range dates {
		created, err := s.createDate(ctx, &a, types.DateInput{PeriodID: d.PeriodID, Parts: d.Parts})
		if err != nil {
			return nil, err
		}
		a.Dates = append(a.Dates, *created)
	}

	notes := a.Notes
	a.Notes = nil
	for _, n := range notes {
		created, err := s.addAssertionNote(ctx, a.ID, n.Text, n.IsInternal)
		if err != nil {
			return nil, err
		}
		a.Notes = append(a.Notes, *created)
	}

	if a.Kind == types.AssertionName {
		if err := s.UpdateNameIndex(ctx, a.ID); err != nil {
			return nil, err
		}
		if err := s.UpdateNameCache(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

// checkAssertionTargets verifies the entities and authority exist.
func (s *Store) checkAssertionTargets(ctx context.Context, a *types.Assertion) error {
	if _, err := s.GetEntity(ctx, a.EntityID); err != nil {
		return err
	}
	if a.Kind == types.AssertionEntityRelationship {
		if _, err := s.GetEntity(ctx, a.RangeEntityID); err != nil {
			return errors.Wrap(err, "range entity")
		}
	}
	if _, err := s.GetAuthority(ctx, a.AuthorityID); err != nil {
		return err
	}
	return nil
}

// UpdateAssertion replaces the assertion's own fields in place; for names
// that includes the name type, language, script and display form. Parts,
// dates and notes have their own operations. The id and kind never change.
// Name index and cache rows are left for an explicit refresh.
func (s *Store) UpdateAssertion(ctx context.Context, a *types.Assertion) error {
	err := s.WithTx(ctx, func(tx *Store) error {
		current, err := tx.GetAssertion(ctx, a.ID)
		if err != nil {
			return err
		}
		if current.Kind != a.Kind {
			return errors.Newf("assertion %d is a %s assertion, not %s", a.ID, current.Kind, a.Kind)
		}

		next := *a
		next.Certainty = next.Certainty.OrFull()
		refs := next.ItemRefs()
		if next.Kind == types.AssertionName && next.Name != nil {
			// Parts keep their own references; only the name's fields change here.
			nameOnly := *next.Name
			nameOnly.Parts = current.Name.Parts
			next.Name = &nameOnly
			refs = (&types.Name{
				NameTypeID: nameOnly.NameTypeID,
				LanguageID: nameOnly.LanguageID,
				ScriptID:   nameOnly.ScriptID,
			}).ItemRefs()
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := tx.checkAssertionTargets(ctx, &next); err != nil {
			return err
		}
		if err := tx.checkItemRefs(ctx, next.AuthorityID, refs); err != nil {
			return err
		}
		if next.AuthorityID != current.AuthorityID {
			if err := tx.checkOwnedRefs(ctx, current, next.AuthorityID); err != nil {
				return err
			}
		}

		if _, err := tx.q.ExecContext(ctx, `
			UPDATE property_assertions SET entity_id = ?, authority_id = ?, is_preferred = ?, certainty = ?,
				entity_type_id = ?, relationship_type_id = ?, range_entity_id = ?, note = ?, is_internal = ?, url = ?
			WHERE id = ?`,
			next.EntityID, next.AuthorityID, boolInt(next.IsPreferred), next.Certainty,
			nullID(next.EntityTypeID), nullID(next.RelationshipTypeID), nullID(next.RangeEntityID),
			next.Note, boolInt(next.IsInternal), next.URL, next.ID); err != nil {
			return errors.Wrapf(err, "update assertion %d", next.ID)
		}
		if next.Kind == types.AssertionName {
			if _, err := tx.q.ExecContext(ctx, `
				UPDATE names SET name_type_id = ?, language_id = ?, script_id = ?, display_form = ?
				WHERE assertion_id = ?`,
				next.Name.NameTypeID, nullID(next.Name.LanguageID), nullID(next.Name.ScriptID),
				next.Name.DisplayForm, next.ID); err != nil {
				return errors.Wrapf(err, "update name of assertion %d", next.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debugw("Updated assertion", "assertion_id", a.ID, "kind", a.Kind)
	return nil
}

// checkOwnedRefs re-validates an assertion's parts and dates against a new
// authority.
func (s *Store) checkOwnedRefs(ctx context.Context, a *types.Assertion, authorityID int64) error {
	var refs []types.ItemRef
	if a.Name != nil {
		for _, ref := range a.Name.ItemRefs() {
			if strings.HasPrefix(ref.Field, "name_part") {
				refs = append(refs, ref)
			}
		}
	}
	for i := range a.Dates {
		refs = append(refs, a.Dates[i].ItemRefs()...)
	}
	return s.checkItemRefs(ctx, authorityID, refs)
}

// RemoveAssertion deletes the assertion with its dates, notes and name data.
func (s *Store) RemoveAssertion(ctx context.Context, id int64) error {
	err := s.WithTx(ctx, func(tx *Store) error {
		var exists bool
		if err := tx.q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM property_assertions WHERE id = ?)`, id).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check assertion %d", id)
		}
		if !exists {
			return errors.NewNotFoundError("assertion %d", id)
		}
		return tx.removeAssertion(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Debugw("Removed assertion", "assertion_id", id)
	return nil
}

func (s *Store) removeAssertion(ctx context.Context, id int64) error {
	for _, stmt := range []string{
		`DELETE FROM date_parts WHERE date_id IN (SELECT id FROM dates WHERE assertion_id = ?)`,
		`DELETE FROM dates WHERE assertion_id = ?`,
		`DELETE FROM assertion_notes WHERE assertion_id = ?`,
		`DELETE FROM name_index WHERE assertion_id = ?`,
		`DELETE FROM name_cache WHERE assertion_id = ?`,
		`DELETE FROM name_parts WHERE assertion_id = ?`,
		`DELETE FROM names WHERE assertion_id = ?`,
		`DELETE FROM property_assertions WHERE id = ?`,
	} {
		if _, err := s.q.ExecContext(ctx, stmt, id); err != nil {
			return errors.Wrapf(err, "remove assertion %d", id)
		}
	}
	return nil
}

// GetAssertion loads one assertion with its name, dates and notes.
func (s *Store) GetAssertion(ctx context.Context, id int64) (*types.Assertion, error) {
	assertions, err := s.loadAssertions(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(assertions) == 0 {
		return nil, errors.NewNotFoundError("assertion %d", id)
	}
	return assertions[0], nil
}

// EntityAssertions returns the assertions the entity owns, by id. An empty
// kind returns every kind; relationships are those where the entity is the
// domain (see EntityRelationships for both directions).
func (s *Store) EntityAssertions(ctx context.Context, entityID int64, kind types.AssertionKind) ([]*types.Assertion, error) {
	if kind == "" {
		return s.loadAssertions(ctx, `WHERE entity_id = ? ORDER BY id`, entityID)
	}
	return s.loadAssertions(ctx, `WHERE entity_id = ? AND kind = ? ORDER BY id`, entityID, kind)
}

// EntityRelationships returns every relationship assertion in which the
// entity is the domain or the range.
func (s *Store) EntityRelationships(ctx context.Context, entityID int64) ([]*types.Assertion, error) {
	return s.loadAssertions(ctx,
		`WHERE kind = ? AND (entity_id = ? OR range_entity_id = ?) ORDER BY id`,
		types.AssertionEntityRelationship, entityID, entityID)
}

func (s *Store) loadAssertions(ctx context.Context, where string, args ...any) ([]*types.Assertion, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+assertionColumns+` FROM property_assertions `+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query assertions")
	}
	var assertions []*types.Assertion
	for rows.Next() {
		var a types.Assertion
		var kind, certainty string
		var preferred, internal int
		var entityType, relType, rangeEntity sql.NullInt64
		if err := rows.Scan(&a.ID, &kind, &a.EntityID, &a.AuthorityID, &preferred, &certainty,
			&entityType, &relType, &rangeEntity, &a.Note, &internal, &a.URL); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan assertion")
		}
		a.Kind = types.AssertionKind(kind)
		a.Certainty = types.Certainty(certainty)
		a.IsPreferred = preferred != 0
		a.IsInternal = internal != 0
		a.EntityTypeID = entityType.Int64
		a.RelationshipTypeID = relType.Int64
		a.RangeEntityID = rangeEntity.Int64
		assertions = append(assertions, &a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate assertions")
	}

	for _, a := range assertions {
		if a.Kind == types.AssertionName {
			if a.Name, err = s.loadName(ctx, a.ID); err != nil {
				return nil, err
			}
		}
		if a.Dates, err = s.AssertionDates(ctx, a.ID); err != nil {
			return nil, err
		}
		if a.Notes, err = s.AssertionNotes(ctx, a.ID); err != nil {
			return nil, err
		}
	}
	return assertions, nil
}

// AddAssertionNote attaches a free-text note to an assertion.
func (s *Store) AddAssertionNote(ctx context.Context, assertionID int64, text string, isInternal bool) (*types.NoteAttachment, error) {
	if _, err := s.GetAssertion(ctx, assertionID); err != nil {
		return nil, err
	}
	return s.addAssertionNote(ctx, assertionID, text, isInternal)
}

func (s *Store) addAssertionNote(ctx context.Context, assertionID int64, text string, isInternal bool) (*types.NoteAttachment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("assertion note requires text")
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO assertion_notes (assertion_id, note, is_internal) VALUES (?, ?, ?)`,
		assertionID, text, boolInt(isInternal))
	if err != nil {
		return nil, errors.Wrapf(err, "insert note for assertion %d", assertionID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "read note id")
	}
	return &types.NoteAttachment{ID: id, Text: text, IsInternal: isInternal}, nil
}

// AssertionNotes returns an assertion's notes in creation order.
func (s *Store) AssertionNotes(ctx context.Context, assertionID int64) ([]types.NoteAttachment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, note, is_internal FROM assertion_notes WHERE assertion_id = ? ORDER BY id`, assertionID)
	if err != nil {
		return nil, errors.Wrapf(err, "query notes of assertion %d", assertionID)
	}
	defer rows.Close()

	var notes []types.NoteAttachment
	for rows.Next() {
		var n types.NoteAttachment
		var internal int
		if err := rows.Scan(&n.ID, &n.Text, &internal); err != nil {
			return nil, errors.Wrap(err, "scan assertion note")
		}
		n.IsInternal = internal != 0
		notes = append(notes, n)
	}
	return notes, errors.Wrap(rows.Err(), "iterate assertion notes")
}

// RemoveAssertionNote deletes one note.
func (s *Store) RemoveAssertionNote(ctx context.Context, noteID int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM assertion_notes WHERE id = ?`, noteID)
	if err != nil {
		return errors.Wrapf(err, "delete assertion note %d", noteID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("assertion note %d", noteID)
	}
	return nil
}
