package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/artefact/eats/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationDir = "sqlite/migrations"

// Migration is one embedded schema step. Files are named
// NNN_description.sql; NNN is the version recorded in schema_migrations.
type Migration struct {
	Version     string
	Description string
	file        string
}

// Migrations lists the embedded migrations in version order.
func Migrations() ([]Migration, error) {
	entries, err := migrationFS.ReadDir(migrationDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var list []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, desc, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, errors.Newf("migration %s is not named NNN_description.sql", name)
		}
		list = append(list, Migration{
			Version:     version,
			Description: strings.ReplaceAll(desc, "_", " "),
			file:        name,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
	return list, nil
}

// appliedVersions reads schema_migrations. A database that has never been
// migrated has no such table and reports nothing applied.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	var n int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'").Scan(&n)
	if err != nil {
		return nil, errors.Wrap(err, "check schema_migrations")
	}
	applied := make(map[string]bool)
	if n == 0 {
		return applied, nil
	}

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, errors.Wrap(rows.Err(), "read schema_migrations")
}

// Pending returns the migrations db has not recorded yet, in order.
func Pending(db *sql.DB) ([]Migration, error) {
	all, err := Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(db)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Migrate brings db up to the current EATS schema.
// If logger is provided, logs each applied step; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	_, err := MigrateReport(db, logger)
	return err
}

// MigrateReport is Migrate returning the migrations it applied. Each runs in
// its own transaction together with its schema_migrations row, so a failed
// step leaves the earlier ones in place and can be retried.
func MigrateReport(db *sql.DB, logger *zap.SugaredLogger) ([]Migration, error) {
	pending, err := Pending(db)
	if err != nil {
		return nil, err
	}

	var done []Migration
	for _, m := range pending {
		body, err := migrationFS.ReadFile(path.Join(migrationDir, m.file))
		if err != nil {
			return done, errors.Wrapf(err, "read %s", m.file)
		}
		if logger != nil {
			logger.Infow("Applying schema migration", "version", m.Version, "step", m.Description)
		}
		if err := applyMigration(db, m, string(body)); err != nil {
			return done, err
		}
		done = append(done, m)
	}

	if logger != nil && len(done) > 0 {
		logger.Infow("EATS schema up to date", "applied", len(done), "latest", done[len(done)-1].Version)
	}
	return done, nil
}

func applyMigration(db *sql.DB, m Migration, body string) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin migration %s", m.Version)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(body); err != nil {
		return errors.Wrapf(err, "migration %s (%s)", m.Version, m.Description)
	}
	// 000 creates schema_migrations, then records itself like the rest.
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		return errors.Wrapf(err, "record migration %s", m.Version)
	}
	return errors.Wrapf(tx.Commit(), "commit migration %s", m.Version)
}
