package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/artefact/eats/db"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// ItemOptions carries the kind-specific fields of a new infrastructure item.
type ItemOptions struct {
	ReverseName   string  // entity relationship types
	Code          string  // languages and scripts
	Separator     string  // scripts
	NamePartTypes []int64 // languages
}

const itemColumns = `id, kind, name, reverse_name, code, separator`

// CreateItem creates an infrastructure item. It fails with a
// DuplicateNameError when an item of the same kind already has the name (or,
// for relationship types, the name and reverse name pair).
func (s *Store) CreateItem(ctx context.Context, kind types.Kind, name string, opts ItemOptions) (*types.Item, error) {
	if !kind.Valid() {
		return nil, errors.Newf("unknown infrastructure kind %q", kind)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Newf("%s requires a name", kind)
	}

	item := &types.Item{Kind: kind, Name: name}
	switch kind {
	case types.KindEntityRelationshipType:
		item.ReverseName = strings.TrimSpace(opts.ReverseName)
	case types.KindLanguage:
		item.Code = opts.Code
		item.NamePartTypes = opts.NamePartTypes
	case types.KindScript:
		item.Code = opts.Code
		item.Separator = opts.Separator
	}

	err := s.WithTx(ctx, func(tx *Store) error {
		var exists bool
		err := tx.q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM infrastructure WHERE kind = ? AND name = ? AND reverse_name = ?)`,
			kind, item.Name, item.ReverseName).Scan(&exists)
		if err != nil {
			return errors.Wrapf(err, "check %s name", kind)
		}
		if exists {
			return &errors.DuplicateNameError{Kind: string(kind), Name: item.Name, ReverseName: item.ReverseName}
		}

		res, err := tx.q.ExecContext(ctx,
			`INSERT INTO infrastructure (kind, name, reverse_name, code, separator) VALUES (?, ?, ?, ?, ?)`,
			kind, item.Name, item.ReverseName, item.Code, item.Separator)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return &errors.DuplicateNameError{Kind: string(kind), Name: item.Name, ReverseName: item.ReverseName}
			}
			return errors.Wrapf(err, "insert %s %q", kind, item.Name)
		}
		if item.ID, err = res.LastInsertId(); err != nil {
			return errors.Wrapf(err, "read %s id", kind)
		}

		if kind == types.KindLanguage && len(item.NamePartTypes) > 0 {
			return tx.setLanguageNamePartTypes(ctx, item.ID, item.NamePartTypes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debugw("Created infrastructure item", "kind", kind, "item_id", item.ID, "name", item.Name)
	return item, nil
}

// CreateCalendar creates a calendar.
func (s *Store) CreateCalendar(ctx context.Context, name string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindCalendar, name, ItemOptions{})
}

// CreateDatePeriod creates a date period.
func (s *Store) CreateDatePeriod(ctx context.Context, name string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindDatePeriod, name, ItemOptions{})
}

// CreateDateType creates a date type.
func (s *Store) CreateDateType(ctx context.Context, name string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindDateType, name, ItemOptions{})
}

// CreateEntityType creates an entity type.
func (s *Store) CreateEntityType(ctx context.Context, name string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindEntityType, name, ItemOptions{})
}

// CreateEntityRelationshipType creates a relationship type read forwards as
// name and backwards as reverse.
func (s *Store) CreateEntityRelationshipType(ctx context.Context, name, reverse string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindEntityRelationshipType, name, ItemOptions{ReverseName: reverse})
}

// CreateLanguage creates a language with its ISO code.
func (s *Store) CreateLanguage(ctx context.Context, name, code string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindLanguage, name, ItemOptions{Code: code})
}

// CreateNamePartType creates a name part type.
func (s *Store) CreateNamePartType(ctx context.Context, name string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindNamePartType, name, ItemOptions{})
}

// CreateNameType creates a name type.
func (s *Store) CreateNameType(ctx context.Context, name string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindNameType, name, ItemOptions{})
}

// CreateScript creates a script with its ISO code and part group separator.
func (s *Store) CreateScript(ctx context.Context, name, code, separator string) (*types.Item, error) {
	return s.CreateItem(ctx, types.KindScript, name, ItemOptions{Code: code, Separator: separator})
}

func scanItem(row interface{ Scan(...any) error }) (*types.Item, error) {
	var item types.Item
	var kind string
	if err := row.Scan(&item.ID, &kind, &item.Name, &item.ReverseName, &item.Code, &item.Separator); err != nil {
		return nil, err
	}
	item.Kind = types.Kind(kind)
	return &item, nil
}

// GetItem loads an infrastructure item of any kind.
func (s *Store) GetItem(ctx context.Context, id int64) (*types.Item, error) {
	item, err := scanItem(s.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM infrastructure WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("infrastructure item %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load infrastructure item %d", id)
	}
	if item.Kind == types.KindLanguage {
		if item.NamePartTypes, err = s.languageNamePartTypes(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// GetItemOfKind loads an item and checks it has the expected kind.
func (s *Store) GetItemOfKind(ctx context.Context, kind types.Kind, id int64) (*types.Item, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Kind != kind {
		return nil, errors.NewNotFoundError("%s %d (item is a %s)", kind, id, item.Kind)
	}
	return item, nil
}

// FindItem looks an item up by its uniqueness key. reverse is ignored for
// kinds other than entity relationship types.
func (s *Store) FindItem(ctx context.Context, kind types.Kind, name, reverse string) (*types.Item, error) {
	if kind != types.KindEntityRelationshipType {
		reverse = ""
	}
	var id int64
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM infrastructure WHERE kind = ? AND name = ? AND reverse_name = ?`,
		kind, name, reverse).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("%s %q", kind, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find %s %q", kind, name)
	}
	return s.GetItem(ctx, id)
}

// ListItems returns every item of kind sorted by name, then id.
func (s *Store) ListItems(ctx context.Context, kind types.Kind) ([]*types.Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM infrastructure WHERE kind = ? ORDER BY name, id`, kind)
}

// FilterByAuthority returns the items of kind the authority permits, sorted
// by name, then id.
func (s *Store) FilterByAuthority(ctx context.Context, kind types.Kind, authorityID int64) ([]*types.Item, error) {
	return s.queryItems(ctx, `
		SELECT i.id, i.kind, i.name, i.reverse_name, i.code, i.separator
		FROM infrastructure i
		JOIN authority_infrastructure ai ON ai.item_id = i.id
		WHERE i.kind = ? AND ai.authority_id = ?
		ORDER BY i.name, i.id`, kind, authorityID)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*types.Item, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query infrastructure")
	}
	var items []*types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan infrastructure item")
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate infrastructure")
	}

	for _, item := range items {
		if item.Kind != types.KindLanguage {
			continue
		}
		if item.NamePartTypes, err = s.languageNamePartTypes(ctx, item.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *Store) languageNamePartTypes(ctx context.Context, languageID int64) ([]int64, error) {
	return s.queryIDs(ctx,
		`SELECT name_part_type_id FROM language_name_part_types WHERE language_id = ? ORDER BY position`, languageID)
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query ids")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate ids")
}

// SetLanguageNamePartTypes replaces a language's name part assembly order.
func (s *Store) SetLanguageNamePartTypes(ctx context.Context, languageID int64, namePartTypes []int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.GetItemOfKind(ctx, types.KindLanguage, languageID); err != nil {
			return err
		}
		return tx.setLanguageNamePartTypes(ctx, languageID, namePartTypes)
	})
}

func (s *Store) setLanguageNamePartTypes(ctx context.Context, languageID int64, namePartTypes []int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM language_name_part_types WHERE language_id = ?`, languageID); err != nil {
		return errors.Wrapf(err, "clear name part types of language %d", languageID)
	}
	seen := make(map[int64]bool, len(namePartTypes))
	position := 0
	for _, id := range namePartTypes {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.GetItemOfKind(ctx, types.KindNamePartType, id); err != nil {
			return errors.Wrapf(err, "language %d name part order", languageID)
		}
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO language_name_part_types (language_id, name_part_type_id, position) VALUES (?, ?, ?)`,
			languageID, id, position); err != nil {
			return errors.Wrapf(err, "add name part type %d to language %d", id, languageID)
		}
		position++
	}
	return nil
}

// UpdateScriptSeparator changes the separator used to join name part groups.
// Cached assembled names are not refreshed.
func (s *Store) UpdateScriptSeparator(ctx context.Context, scriptID int64, separator string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE infrastructure SET separator = ? WHERE id = ? AND kind = ?`, separator, scriptID, types.KindScript)
	if err != nil {
		return errors.Wrapf(err, "update separator of script %d", scriptID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("script %d", scriptID)
	}
	return nil
}

// CreateAuthority creates an authority with an empty permitted set.
func (s *Store) CreateAuthority(ctx context.Context, name string) (*types.Authority, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("authority requires a name")
	}
	authority := &types.Authority{Name: name}
	err := s.WithTx(ctx, func(tx *Store) error {
		var exists bool
		if err := tx.q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM authorities WHERE name = ?)`, name).Scan(&exists); err != nil {
			return errors.Wrap(err, "check authority name")
		}
		if exists {
			return &errors.DuplicateNameError{Kind: "authority", Name: name}
		}
		res, err := tx.q.ExecContext(ctx, `INSERT INTO authorities (name) VALUES (?)`, name)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return &errors.DuplicateNameError{Kind: "authority", Name: name}
			}
			return errors.Wrapf(err, "insert authority %q", name)
		}
		authority.ID, err = res.LastInsertId()
		return errors.Wrap(err, "read authority id")
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("Created authority", "authority_id", authority.ID, "name", name)
	return authority, nil
}

// GetAuthority loads an authority.
func (s *Store) GetAuthority(ctx context.Context, id int64) (*types.Authority, error) {
	authority := &types.Authority{}
	err := s.q.QueryRowContext(ctx, `SELECT id, name FROM authorities WHERE id = ?`, id).
		Scan(&authority.ID, &authority.Name)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("authority %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load authority %d", id)
	}
	return authority, nil
}

// FindAuthority looks an authority up by name.
func (s *Store) FindAuthority(ctx context.Context, name string) (*types.Authority, error) {
	authority := &types.Authority{}
	err := s.q.QueryRowContext(ctx, `SELECT id, name FROM authorities WHERE name = ?`, name).
		Scan(&authority.ID, &authority.Name)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("authority %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find authority %q", name)
	}
	return authority, nil
}

// ListAuthorities returns every authority sorted by name, then id.
func (s *Store) ListAuthorities(ctx context.Context) ([]*types.Authority, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name FROM authorities ORDER BY name, id`)
	if err != nil {
		return nil, errors.Wrap(err, "query authorities")
	}
	defer rows.Close()

	var authorities []*types.Authority
	for rows.Next() {
		a := &types.Authority{}
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, errors.Wrap(err, "scan authority")
		}
		authorities = append(authorities, a)
	}
	return authorities, errors.Wrap(rows.Err(), "iterate authorities")
}

// SetAuthorityItems replaces the authority's entire permitted set for kind.
// Items of other kinds are untouched. Every id must name an item of kind.
func (s *Store) SetAuthorityItems(ctx context.Context, authorityID int64, kind types.Kind, itemIDs []int64) error {
	if !kind.Valid() {
		return errors.Newf("unknown infrastructure kind %q", kind)
	}
	err := s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.GetAuthority(ctx, authorityID); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `
			DELETE FROM authority_infrastructure
			WHERE authority_id = ? AND item_id IN (SELECT id FROM infrastructure WHERE kind = ?)`,
			authorityID, kind); err != nil {
			return errors.Wrapf(err, "clear %s set of authority %d", kind, authorityID)
		}
		seen := make(map[int64]bool, len(itemIDs))
		for _, id := range itemIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if _, err := tx.GetItemOfKind(ctx, kind, id); err != nil {
				return err
			}
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO authority_infrastructure (authority_id, item_id) VALUES (?, ?)`, authorityID, id); err != nil {
				return errors.Wrapf(err, "permit %s %d for authority %d", kind, id, authorityID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Infow("Replaced authority infrastructure set",
		"authority_id", authorityID, "kind", kind, "count", len(itemIDs))
	return nil
}

// AuthorityItemIDs returns the ids of kind the authority permits, ascending.
func (s *Store) AuthorityItemIDs(ctx context.Context, authorityID int64, kind types.Kind) ([]int64, error) {
	return s.queryIDs(ctx, `
		SELECT ai.item_id FROM authority_infrastructure ai
		JOIN infrastructure i ON i.id = ai.item_id
		WHERE ai.authority_id = ? AND i.kind = ?
		ORDER BY ai.item_id`, authorityID, kind)
}

// checkItemRefs verifies every non-zero reference names an item of the
// expected kind that the authority permits.
func (s *Store) checkItemRefs(ctx context.Context, authorityID int64, refs []types.ItemRef) error {
	for _, ref := range refs {
		if ref.ID == 0 {
			continue
		}
		var kind string
		var permitted bool
		err := s.q.QueryRowContext(ctx, `
			SELECT i.kind, EXISTS(
				SELECT 1 FROM authority_infrastructure
				WHERE authority_id = ? AND item_id = i.id)
			FROM infrastructure i WHERE i.id = ?`, authorityID, ref.ID).Scan(&kind, &permitted)
		if err == sql.ErrNoRows {
			return errors.NewValidationErrorf(ref.Field, "%s %d does not exist", ref.Kind, ref.ID)
		}
		if err != nil {
			return errors.Wrapf(err, "check %s %d", ref.Field, ref.ID)
		}
		if types.Kind(kind) != ref.Kind {
			return errors.NewValidationErrorf(ref.Field, "item %d is a %s, not a %s", ref.ID, kind, ref.Kind)
		}
		if !permitted {
			return errors.NewValidationError(ref.Field, ref.ID, authorityID)
		}
	}
	return nil
}
