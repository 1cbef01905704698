// Package storage persists the EATS entity model in SQLite.
//
// Store is the repository handle every operation goes through. It replaces a
// process-wide topic map with an explicit value: callers construct one per
// database and pass it (or a transaction-bound copy from WithTx) around.
package storage

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/artefact/eats/errors"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the EATS repository.
type Store struct {
	db      *sql.DB
	q       querier
	tx      *sql.Tx
	baseURL string
	logger  *zap.SugaredLogger
}

// NewStore creates a store over db. baseURL prefixes entity subject
// identifiers. A nil logger discards output.
func NewStore(db *sql.DB, baseURL string, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		db:      db,
		q:       db,
		baseURL: baseURL,
		logger:  logger,
	}
}

// BaseURL returns the subject identifier prefix.
func (s *Store) BaseURL() string {
	return s.baseURL
}

// InTx reports whether the store is bound to a transaction.
func (s *Store) InTx() bool {
	return s.tx != nil
}

// WithTx runs fn against a transaction-bound store and commits if fn returns
// nil. Any error rolls everything back. Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	bound := &Store{
		db:      s.db,
		q:       tx,
		tx:      tx,
		baseURL: s.baseURL,
		logger:  s.logger,
	}
	if err := fn(bound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// nullID maps the zero id to SQL NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Stats returns row counts for the main tables.
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	tables := []string{
		"authorities", "infrastructure", "users", "entities", "merged_entities",
		"property_assertions", "names", "name_parts", "dates", "date_parts",
		"assertion_notes", "name_index", "name_cache",
	}
	stats := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", table)
		}
		stats[table] = n
	}
	return stats, nil
}
