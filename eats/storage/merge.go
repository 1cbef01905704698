package storage

import (
	"context"
	"time"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// MergeResult summarises a merge.
type MergeResult struct {
	KeptID     int64
	AbsorbedID int64
	Moved      int // assertions repointed to the kept entity
	Duplicates int // absorbed assertions identical to one the kept entity had
}

// MergeEntities folds absorb into keep in one transaction:
//
//   - subject identifiers are reduced to those both entities carry;
//   - every assertion of absorb moves to keep, except ones identical (same
//     kind, authority, fields, dates and notes) to an assertion keep already
//     has, which are dropped;
//   - relationships naming absorb as domain or range are repointed, never
//     deduplicated;
//   - absorb is deleted and its id (plus any ids previously merged into it)
//     redirects to keep.
//
// A relationship between the two entities would become a self-loop, so it
// makes the merge fail with ErrIllegalRelationship.
func (s *Store) MergeEntities(ctx context.Context, keepID, absorbID int64) (*MergeResult, error) {
	if keepID == absorbID {
		return nil, errors.Newf("cannot merge entity %d into itself", keepID)
	}
	start := time.Now()
	result := &MergeResult{KeptID: keepID, AbsorbedID: absorbID}

	err := s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.GetEntity(ctx, keepID); err != nil {
			return err
		}
		if _, err := tx.GetEntity(ctx, absorbID); err != nil {
			return err
		}

		var linked int
		if err := tx.q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM property_assertions
			WHERE kind = ? AND ((entity_id = ? AND range_entity_id = ?) OR (entity_id = ? AND range_entity_id = ?))`,
			types.AssertionEntityRelationship, keepID, absorbID, absorbID, keepID).Scan(&linked); err != nil {
			return errors.Wrap(err, "check relationships between merged entities")
		}
		if linked > 0 {
			return errors.NewIllegalRelationshipError(
				"entities %d and %d are related to each other; remove the relationship before merging", keepID, absorbID)
		}

		if err := tx.intersectSubjectIdentifiers(ctx, keepID, absorbID); err != nil {
			return err
		}

		kept, err := tx.EntityAssertions(ctx, keepID, "")
		if err != nil {
			return err
		}
		signatures := make(map[string]bool, len(kept))
		for _, a := range kept {
			if a.Kind != types.AssertionEntityRelationship {
				signatures[a.Signature()] = true
			}
		}

		absorbed, err := tx.EntityAssertions(ctx, absorbID, "")
		if err != nil {
			return err
		}
		for _, a := range absorbed {
			if a.Kind != types.AssertionEntityRelationship && signatures[a.Signature()] {
				if err := tx.removeAssertion(ctx, a.ID); err != nil {
					return err
				}
				result.Duplicates++
				continue
			}
			result.Moved++
		}

		for _, stmt := range []string{
			`UPDATE property_assertions SET entity_id = ? WHERE entity_id = ?`,
			`UPDATE property_assertions SET range_entity_id = ? WHERE range_entity_id = ?`,
			`UPDATE name_index SET entity_id = ? WHERE entity_id = ?`,
			`UPDATE name_cache SET entity_id = ? WHERE entity_id = ?`,
			`UPDATE merged_entities SET new_id = ? WHERE new_id = ?`,
		} {
			if _, err := tx.q.ExecContext(ctx, stmt, keepID, absorbID); err != nil {
				return errors.Wrapf(err, "repoint entity %d to %d", absorbID, keepID)
			}
		}

		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO merged_entities (old_id, new_id) VALUES (?, ?)`, absorbID, keepID); err != nil {
			return errors.Wrapf(err, "record merge of entity %d", absorbID)
		}
		if _, err := tx.q.ExecContext(ctx,
			`DELETE FROM entity_subject_identifiers WHERE entity_id = ?`, absorbID); err != nil {
			return errors.Wrapf(err, "drop subject identifiers of entity %d", absorbID)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, absorbID); err != nil {
			return errors.Wrapf(err, "delete entity %d", absorbID)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "merge entity %d into %d", absorbID, keepID)
	}

	s.logger.Infow("Merged entities",
		"entity_id", keepID,
		"absorbed_id", absorbID,
		"moved", result.Moved,
		"duplicates", result.Duplicates,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// intersectSubjectIdentifiers keeps only the identifiers both entities have.
func (s *Store) intersectSubjectIdentifiers(ctx context.Context, keepID, absorbID int64) error {
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM entity_subject_identifiers
		WHERE entity_id = ? AND url NOT IN (
			SELECT url FROM entity_subject_identifiers WHERE entity_id = ?)`, keepID, absorbID)
	return errors.Wrapf(err, "intersect subject identifiers of entities %d and %d", keepID, absorbID)
}
