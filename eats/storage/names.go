package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// DefaultSearchLimit caps SearchNames when no limit is given.
const DefaultSearchLimit = 50

// NameMatch is a search hit: the entity, the matching name assertion and its
// cached assembled form.
type NameMatch struct {
	EntityID    int64
	AssertionID int64
	Form        string
}

func (s *Store) loadName(ctx context.Context, assertionID int64) (*types.Name, error) {
	var n types.Name
	var language, script sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT name_type_id, language_id, script_id, display_form FROM names WHERE assertion_id = ?`,
		assertionID).Scan(&n.NameTypeID, &language, &script, &n.DisplayForm)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("name of assertion %d", assertionID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load name of assertion %d", assertionID)
	}
	n.LanguageID = language.Int64
	n.ScriptID = script.Int64

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name_part_type_id, language_id, script_id, display_form, part_order
		FROM name_parts WHERE assertion_id = ? ORDER BY id`, assertionID)
	if err != nil {
		return nil, errors.Wrapf(err, "query name parts of assertion %d", assertionID)
	}
	defer rows.Close()
	for rows.Next() {
		var p types.NamePart
		var pLanguage, pScript sql.NullInt64
		if err := rows.Scan(&p.ID, &p.NamePartTypeID, &pLanguage, &pScript, &p.DisplayForm, &p.Order); err != nil {
			return nil, errors.Wrap(err, "scan name part")
		}
		p.LanguageID = pLanguage.Int64
		p.ScriptID = pScript.Int64
		n.Parts = append(n.Parts, p)
	}
	return &n, errors.Wrap(rows.Err(), "iterate name parts")
}

func (s *Store) nameAssertion(ctx context.Context, assertionID int64) (*types.Assertion, error) {
	a, err := s.GetAssertion(ctx, assertionID)
	if err != nil {
		return nil, err
	}
	if a.Kind != types.AssertionName {
		return nil, errors.Newf("assertion %d is a %s assertion, not a name", assertionID, a.Kind)
	}
	return a, nil
}

// CreateNamePart appends a part to a name. Existing parts with the same
// order keep their place ahead of it. The index and cache are not refreshed.
func (s *Store) CreateNamePart(ctx context.Context, assertionID int64, part types.NamePart) (*types.NamePart, error) {
	var created *types.NamePart
	err := s.WithTx(ctx, func(tx *Store) error {
		a, err := tx.nameAssertion(ctx, assertionID)
		if err != nil {
			return err
		}
		probe := types.Name{Parts: []types.NamePart{part}}
		var refs []types.ItemRef
		for _, ref := range probe.ItemRefs() {
			if ref.Field != "name_type" {
				refs = append(refs, ref)
			}
		}
		if part.NamePartTypeID == 0 {
			return errors.New("name part requires a name part type")
		}
		if err := tx.checkItemRefs(ctx, a.AuthorityID, refs); err != nil {
			return err
		}
		created, err = tx.insertNamePart(ctx, assertionID, part)
		return err
	})
	return created, err
}

func (s *Store) insertNamePart(ctx context.Context, assertionID int64, part types.NamePart) (*types.NamePart, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO name_parts (assertion_id, name_part_type_id, language_id, script_id, display_form, part_order)
		VALUES (?, ?, ?, ?, ?, ?)`,
		assertionID, part.NamePartTypeID, nullID(part.LanguageID), nullID(part.ScriptID), part.DisplayForm, part.Order)
	if err != nil {
		return nil, errors.Wrapf(err, "insert name part for assertion %d", assertionID)
	}
	if part.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "read name part id")
	}
	return &part, nil
}

// RemoveNamePart deletes a part. The index and cache are not refreshed.
func (s *Store) RemoveNamePart(ctx context.Context, partID int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM name_parts WHERE id = ?`, partID)
	if err != nil {
		return errors.Wrapf(err, "delete name part %d", partID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("name part %d", partID)
	}
	return nil
}

// NameAssembledForm computes the assembled form of a stored name from its
// current parts, language order and script separator.
func (s *Store) NameAssembledForm(ctx context.Context, assertionID int64) (string, error) {
	n, err := s.loadName(ctx, assertionID)
	if err != nil {
		return "", err
	}
	return s.assemble(ctx, n)
}

func (s *Store) assemble(ctx context.Context, n *types.Name) (string, error) {
	var language, script *types.Item
	var err error
	if n.LanguageID != 0 {
		if language, err = s.GetItem(ctx, n.LanguageID); err != nil {
			return "", err
		}
	}
	if n.ScriptID != 0 {
		if script, err = s.GetItem(ctx, n.ScriptID); err != nil {
			return "", err
		}
	}
	return types.AssembledName(n, language, script), nil
}

// UpdateNameIndex rebuilds the name's word-level search entries from its
// current display form and parts.
func (s *Store) UpdateNameIndex(ctx context.Context, assertionID int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		var entityID int64
		if err := tx.q.QueryRowContext(ctx,
			`SELECT entity_id FROM property_assertions WHERE id = ? AND kind = ?`,
			assertionID, types.AssertionName).Scan(&entityID); err != nil {
			if err == sql.ErrNoRows {
				return errors.NewNotFoundError("name assertion %d", assertionID)
			}
			return errors.Wrapf(err, "load name assertion %d", assertionID)
		}
		n, err := tx.loadName(ctx, assertionID)
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM name_index WHERE assertion_id = ?`, assertionID); err != nil {
			return errors.Wrapf(err, "clear index of name %d", assertionID)
		}
		for _, token := range types.IndexTokens(n) {
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO name_index (assertion_id, entity_id, form) VALUES (?, ?, ?)`,
				assertionID, entityID, token); err != nil {
				return errors.Wrapf(err, "index name %d", assertionID)
			}
		}
		return nil
	})
}

// UpdateNameCache rebuilds the name's cached assembled form and lookup
// fields.
func (s *Store) UpdateNameCache(ctx context.Context, assertionID int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		a, err := tx.nameAssertion(ctx, assertionID)
		if err != nil {
			return err
		}
		form, err := tx.assemble(ctx, a.Name)
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM name_cache WHERE assertion_id = ?`, assertionID); err != nil {
			return errors.Wrapf(err, "clear cache of name %d", assertionID)
		}
		_, err = tx.q.ExecContext(ctx, `
			INSERT INTO name_cache (assertion_id, entity_id, form, authority_id, language_id, script_id, is_preferred)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			assertionID, a.EntityID, form, a.AuthorityID,
			nullID(a.Name.LanguageID), nullID(a.Name.ScriptID), boolInt(a.IsPreferred))
		return errors.Wrapf(err, "cache name %d", assertionID)
	})
}

// SearchNames finds names with an indexed word starting with prefix,
// case-insensitively for ASCII. Results are ordered by entity, then name.
func (s *Store) SearchNames(ctx context.Context, prefix string, limit int) ([]NameMatch, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)

	rows, err := s.q.QueryContext(ctx, `
		SELECT DISTINCT ni.entity_id, ni.assertion_id, COALESCE(nc.form, '')
		FROM name_index ni
		LEFT JOIN name_cache nc ON nc.assertion_id = ni.assertion_id
		WHERE ni.form LIKE ? ESCAPE '\'
		ORDER BY ni.entity_id, ni.assertion_id
		LIMIT ?`, escaped+"%", limit)
	if err != nil {
		return nil, errors.Wrapf(err, "search names for %q", prefix)
	}
	defer rows.Close()

	var matches []NameMatch
	for rows.Next() {
		var m NameMatch
		if err := rows.Scan(&m.EntityID, &m.AssertionID, &m.Form); err != nil {
			return nil, errors.Wrap(err, "scan name match")
		}
		matches = append(matches, m)
	}
	return matches, errors.Wrap(rows.Err(), "iterate name matches")
}

// PreferredName selects the entity's best name assertion for the viewing
// context. Zero filters are ignored.
func (s *Store) PreferredName(ctx context.Context, entityID, authorityID, languageID, scriptID int64) (*types.Assertion, error) {
	names, err := s.EntityAssertions(ctx, entityID, types.AssertionName)
	if err != nil {
		return nil, err
	}
	candidates := make([]types.NameCandidate, len(names))
	for i, a := range names {
		candidates[i] = types.NameCandidate{
			AssertionID: a.ID,
			AuthorityID: a.AuthorityID,
			LanguageID:  a.Name.LanguageID,
			ScriptID:    a.Name.ScriptID,
			IsPreferred: a.IsPreferred,
		}
	}
	idx := types.SelectPreferredName(candidates, authorityID, languageID, scriptID)
	if idx < 0 {
		return nil, errors.NewNotFoundError("name for entity %d", entityID)
	}
	return names[idx], nil
}

// CachedPreferredName is PreferredName answered from the name cache. It
// reflects the state as of each name's last UpdateNameCache.
func (s *Store) CachedPreferredName(ctx context.Context, entityID, authorityID, languageID, scriptID int64) (string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT assertion_id, form, authority_id, language_id, script_id, is_preferred
		FROM name_cache WHERE entity_id = ? ORDER BY assertion_id`, entityID)
	if err != nil {
		return "", errors.Wrapf(err, "query name cache of entity %d", entityID)
	}
	defer rows.Close()

	var forms []string
	var candidates []types.NameCandidate
	for rows.Next() {
		var c types.NameCandidate
		var form string
		var language, script sql.NullInt64
		var preferred int
		if err := rows.Scan(&c.AssertionID, &form, &c.AuthorityID, &language, &script, &preferred); err != nil {
			return "", errors.Wrap(err, "scan name cache")
		}
		c.LanguageID = language.Int64
		c.ScriptID = script.Int64
		c.IsPreferred = preferred != 0
		candidates = append(candidates, c)
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		return "", errors.Wrap(err, "iterate name cache")
	}

	idx := types.SelectPreferredName(candidates, authorityID, languageID, scriptID)
	if idx < 0 {
		return "", errors.NewNotFoundError("cached name for entity %d", entityID)
	}
	return forms[idx], nil
}
