package storage

import (
	"context"
	"database/sql"

	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// CreateDate attaches a date to an assertion. The period and every part's
// calendar and date type must be permitted by the assertion's authority;
// otherwise nothing is created.
func (s *Store) CreateDate(ctx context.Context, assertionID int64, in types.DateInput) (*types.Date, error) {
	var created *types.Date
	err := s.WithTx(ctx, func(tx *Store) error {
		a, err := tx.assertionHeader(ctx, assertionID)
		if err != nil {
			return err
		}
		created, err = tx.createDate(ctx, a, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("Created date", "assertion_id", assertionID, "date_id", created.ID, "count", len(created.Parts))
	return created, nil
}

// assertionHeader loads just the assertion row, enough for authority checks.
func (s *Store) assertionHeader(ctx context.Context, assertionID int64) (*types.Assertion, error) {
	a := &types.Assertion{ID: assertionID}
	var kind string
	err := s.q.QueryRowContext(ctx,
		`SELECT kind, entity_id, authority_id FROM property_assertions WHERE id = ?`, assertionID).
		Scan(&kind, &a.EntityID, &a.AuthorityID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("assertion %d", assertionID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load assertion %d", assertionID)
	}
	a.Kind = types.AssertionKind(kind)
	return a, nil
}

func (s *Store) createDate(ctx context.Context, a *types.Assertion, in types.DateInput) (*types.Date, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	date := &types.Date{AssertionID: a.ID, PeriodID: in.PeriodID, Parts: normaliseParts(in.Parts)}
	if err := s.checkItemRefs(ctx, a.AuthorityID, date.ItemRefs()); err != nil {
		return nil, err
	}

	res, err := s.q.ExecContext(ctx, `INSERT INTO dates (assertion_id, period_id) VALUES (?, ?)`, a.ID, in.PeriodID)
	if err != nil {
		return nil, errors.Wrapf(err, "insert date for assertion %d", a.ID)
	}
	if date.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "read date id")
	}
	if err := s.insertDateParts(ctx, date); err != nil {
		return nil, err
	}
	return date, nil
}

func normaliseParts(parts map[types.Slot]types.DatePart) map[types.Slot]types.DatePart {
	out := make(map[types.Slot]types.DatePart, len(parts))
	for slot, p := range parts {
		p.Certainty = p.Certainty.OrFull()
		out[slot] = p
	}
	return out
}

func (s *Store) insertDateParts(ctx context.Context, date *types.Date) error {
	for _, slot := range types.Slots {
		p, ok := date.Parts[slot]
		if !ok {
			continue
		}
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO date_parts (date_id, slot, raw, normalised, calendar_id, date_type_id, certainty)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			date.ID, slot, p.Raw, p.Normalised, nullID(p.CalendarID), nullID(p.DateTypeID), p.Certainty); err != nil {
			return errors.Wrapf(err, "insert %s part of date %d", slot, date.ID)
		}
	}
	return nil
}

// UpdateDate replaces a date's period and all of its parts. A validation
// failure leaves the stored date untouched.
func (s *Store) UpdateDate(ctx context.Context, dateID int64, in types.DateInput) error {
	return s.WithTx(ctx, func(tx *Store) error {
		date, a, err := tx.dateWithAssertion(ctx, dateID)
		if err != nil {
			return err
		}
		if err := in.Validate(); err != nil {
			return err
		}
		next := &types.Date{ID: date.ID, AssertionID: a.ID, PeriodID: in.PeriodID, Parts: normaliseParts(in.Parts)}
		if err := tx.checkItemRefs(ctx, a.AuthorityID, next.ItemRefs()); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `UPDATE dates SET period_id = ? WHERE id = ?`, in.PeriodID, dateID); err != nil {
			return errors.Wrapf(err, "update date %d", dateID)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM date_parts WHERE date_id = ?`, dateID); err != nil {
			return errors.Wrapf(err, "clear parts of date %d", dateID)
		}
		return tx.insertDateParts(ctx, next)
	})
}

// UpdateDatePart sets one slot of a date, re-validating the calendar and date
// type against the owning assertion's current authority.
func (s *Store) UpdateDatePart(ctx context.Context, dateID int64, slot types.Slot, part types.DatePart) error {
	if _, err := types.ParseSlot(string(slot)); err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx *Store) error {
		date, a, err := tx.dateWithAssertion(ctx, dateID)
		if err != nil {
			return err
		}
		parts := map[types.Slot]types.DatePart{slot: part}
		if err := (types.DateInput{PeriodID: date.PeriodID, Parts: parts}).Validate(); err != nil {
			return err
		}
		probe := &types.Date{PeriodID: date.PeriodID, Parts: normaliseParts(parts)}
		if err := tx.checkItemRefs(ctx, a.AuthorityID, probe.ItemRefs()); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM date_parts WHERE date_id = ? AND slot = ?`, dateID, slot); err != nil {
			return errors.Wrapf(err, "clear %s part of date %d", slot, dateID)
		}
		probe.ID = dateID
		return tx.insertDateParts(ctx, probe)
	})
}

// RemoveDatePart empties one slot.
func (s *Store) RemoveDatePart(ctx context.Context, dateID int64, slot types.Slot) error {
	_, err := s.q.ExecContext(ctx, `DELETE FROM date_parts WHERE date_id = ? AND slot = ?`, dateID, slot)
	return errors.Wrapf(err, "remove %s part of date %d", slot, dateID)
}

// RemoveDate deletes a date and its parts.
func (s *Store) RemoveDate(ctx context.Context, dateID int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM date_parts WHERE date_id = ?`, dateID); err != nil {
			return errors.Wrapf(err, "remove parts of date %d", dateID)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM dates WHERE id = ?`, dateID)
		if err != nil {
			return errors.Wrapf(err, "remove date %d", dateID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFoundError("date %d", dateID)
		}
		return nil
	})
}

// GetDate loads one date with its parts.
func (s *Store) GetDate(ctx context.Context, dateID int64) (*types.Date, error) {
	date := &types.Date{ID: dateID}
	err := s.q.QueryRowContext(ctx, `SELECT assertion_id, period_id FROM dates WHERE id = ?`, dateID).
		Scan(&date.AssertionID, &date.PeriodID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("date %d", dateID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load date %d", dateID)
	}
	if date.Parts, err = s.dateParts(ctx, dateID); err != nil {
		return nil, err
	}
	return date, nil
}

func (s *Store) dateWithAssertion(ctx context.Context, dateID int64) (*types.Date, *types.Assertion, error) {
	date, err := s.GetDate(ctx, dateID)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.assertionHeader(ctx, date.AssertionID)
	if err != nil {
		return nil, nil, err
	}
	return date, a, nil
}

// AssertionDates returns an assertion's dates in creation order.
func (s *Store) AssertionDates(ctx context.Context, assertionID int64) ([]types.Date, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, period_id FROM dates WHERE assertion_id = ? ORDER BY id`, assertionID)
	if err != nil {
		return nil, errors.Wrapf(err, "query dates of assertion %d", assertionID)
	}
	var dates []types.Date
	for rows.Next() {
		d := types.Date{AssertionID: assertionID}
		if err := rows.Scan(&d.ID, &d.PeriodID); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan date")
		}
		dates = append(dates, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate dates")
	}

	for i := range dates {
		if dates[i].Parts, err = s.dateParts(ctx, dates[i].ID); err != nil {
			return nil, err
		}
	}
	return dates, nil
}

func (s *Store) dateParts(ctx context.Context, dateID int64) (map[types.Slot]types.DatePart, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT slot, raw, normalised, calendar_id, date_type_id, certainty
		FROM date_parts WHERE date_id = ?`, dateID)
	if err != nil {
		return nil, errors.Wrapf(err, "query parts of date %d", dateID)
	}
	defer rows.Close()

	parts := make(map[types.Slot]types.DatePart)
	for rows.Next() {
		var slot, certainty string
		var p types.DatePart
		var calendar, dateType sql.NullInt64
		if err := rows.Scan(&slot, &p.Raw, &p.Normalised, &calendar, &dateType, &certainty); err != nil {
			return nil, errors.Wrap(err, "scan date part")
		}
		p.CalendarID = calendar.Int64
		p.DateTypeID = dateType.Int64
		p.Certainty = types.Certainty(certainty)
		parts[types.Slot(slot)] = p
	}
	return parts, errors.Wrap(rows.Err(), "iterate date parts")
}
