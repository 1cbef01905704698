package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// redirectHops bounds how many merge redirects ResolveEntityID follows.
const redirectHops = 32

// CreateEntity allocates an entity with a fresh subject identifier. When
// authorityID is non-zero an existence assertion is created for it too.
func (s *Store) CreateEntity(ctx context.Context, authorityID int64) (*types.Entity, error) {
	entity := &types.Entity{}
	err := s.WithTx(ctx, func(tx *Store) error {
		res, err := tx.q.ExecContext(ctx, `INSERT INTO entities (url) VALUES ('')`)
		if err != nil {
			return errors.Wrap(err, "insert entity")
		}
		if entity.ID, err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "read entity id")
		}
		entity.URL = types.EntityURL(tx.baseURL, entity.ID)
		if _, err := tx.q.ExecContext(ctx, `UPDATE entities SET url = ? WHERE id = ?`, entity.URL, entity.ID); err != nil {
			return errors.Wrapf(err, "set url of entity %d", entity.ID)
		}
		if authorityID != 0 {
			if _, err := tx.CreateExistenceAssertion(ctx, entity.ID, authorityID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("Created entity", "entity_id", entity.ID, "authority_id", authorityID)
	return entity, nil
}

// GetEntity loads an entity. An id folded into another entity by a merge
// yields a MergedIdentifierError carrying the surviving id.
func (s *Store) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	entity := &types.Entity{}
	var created string
	err := s.q.QueryRowContext(ctx, `SELECT id, url, created_at FROM entities WHERE id = ?`, id).
		Scan(&entity.ID, &entity.URL, &created)
	if err == sql.ErrNoRows {
		newID, merged, mErr := s.mergedInto(ctx, id)
		if mErr != nil {
			return nil, mErr
		}
		if merged {
			return nil, errors.WithStack(&errors.MergedIdentifierError{OldID: id, NewID: newID})
		}
		return nil, errors.NewNotFoundError("entity %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load entity %d", id)
	}
	entity.CreatedAt = parseTimestamp(created)
	return entity, nil
}

func (s *Store) mergedInto(ctx context.Context, id int64) (int64, bool, error) {
	var newID int64
	err := s.q.QueryRowContext(ctx, `SELECT new_id FROM merged_entities WHERE old_id = ?`, id).Scan(&newID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "look up merge redirect for entity %d", id)
	}
	return newID, true, nil
}

// ResolveEntityID follows merge redirects to the live entity id.
func (s *Store) ResolveEntityID(ctx context.Context, id int64) (int64, error) {
	for hop := 0; hop < redirectHops; hop++ {
		_, err := s.GetEntity(ctx, id)
		if err == nil {
			return id, nil
		}
		newID, ok := errors.MergedInto(err)
		if !ok {
			return 0, err
		}
		id = newID
	}
	return 0, errors.AssertionFailedf("merge redirect chain for entity %d exceeds %d hops", id, redirectHops)
}

// EntityExists reports whether id names a live entity.
func (s *Store) EntityExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM entities WHERE id = ?)`, id).Scan(&exists)
	return exists, errors.Wrapf(err, "check entity %d", id)
}

// ListEntityIDs returns every live entity id, ascending.
func (s *Store) ListEntityIDs(ctx context.Context) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT id FROM entities ORDER BY id`)
}

// DeleteEntity removes an entity and everything hanging off it: its
// assertions, relationships where it is the range, names with their parts
// and index rows, dates and notes.
func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	err := s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.GetEntity(ctx, id); err != nil {
			return err
		}
		assertionIDs, err := tx.queryIDs(ctx,
			`SELECT id FROM property_assertions WHERE entity_id = ? OR range_entity_id = ? ORDER BY id`, id, id)
		if err != nil {
			return errors.Wrapf(err, "list assertions of entity %d", id)
		}
		for _, assertionID := range assertionIDs {
			if err := tx.removeAssertion(ctx, assertionID); err != nil {
				return err
			}
		}
		for _, stmt := range []string{
			`DELETE FROM name_index WHERE entity_id = ?`,
			`DELETE FROM name_cache WHERE entity_id = ?`,
			`DELETE FROM entity_subject_identifiers WHERE entity_id = ?`,
			`DELETE FROM merged_entities WHERE new_id = ?`,
			`DELETE FROM entities WHERE id = ?`,
		} {
			if _, err := tx.q.ExecContext(ctx, stmt, id); err != nil {
				return errors.Wrapf(err, "delete entity %d", id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Infow("Deleted entity", "entity_id", id)
	return nil
}

// AddSubjectIdentifier records an additional identifier for the entity.
func (s *Store) AddSubjectIdentifier(ctx context.Context, entityID int64, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("subject identifier requires a URL")
	}
	if _, err := s.GetEntity(ctx, entityID); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO entity_subject_identifiers (entity_id, url) VALUES (?, ?)`, entityID, url)
	return errors.Wrapf(err, "add subject identifier to entity %d", entityID)
}

// SubjectIdentifiers returns the entity's additional identifiers, sorted.
func (s *Store) SubjectIdentifiers(ctx context.Context, entityID int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT url FROM entity_subject_identifiers WHERE entity_id = ? ORDER BY url`, entityID)
	if err != nil {
		return nil, errors.Wrapf(err, "query subject identifiers of entity %d", entityID)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, errors.Wrap(err, "scan subject identifier")
		}
		urls = append(urls, url)
	}
	return urls, errors.Wrap(rows.Err(), "iterate subject identifiers")
}

// parseTimestamp reads SQLite's CURRENT_TIMESTAMP text; drivers may also
// hand back RFC 3339.
func parseTimestamp(v string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
