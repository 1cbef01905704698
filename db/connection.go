package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/artefact/eats/errors"
)

// Supported database/sql driver names. sqlite3 is the cgo driver
// (mattn/go-sqlite3); sqlite is the pure-Go driver (modernc.org/sqlite).
const (
	DriverCGO    = "sqlite3"
	DriverPureGo = "sqlite"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked database.
const SQLiteBusyTimeoutMS = 5000

// IsSupportedDriver reports whether name is a driver Open accepts.
func IsSupportedDriver(name string) bool {
	return name == DriverCGO || name == DriverPureGo
}

// Open opens a SQLite database at path using the cgo driver.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	return OpenDriver(DriverCGO, path, logger)
}

// OpenDriver opens a SQLite database at path with the named driver and
// applies the connection pragmas EATS relies on: WAL journaling, enforced
// foreign keys (assertion cascades depend on them) and a busy timeout.
func OpenDriver(driver, path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if !IsSupportedDriver(driver) {
		return nil, errors.Newf("unsupported database driver %q", driver)
	}
	if logger != nil {
		logger.Debugw("Opening database", "path", path, "driver", driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to set busy timeout")
	}

	// foreign_keys is per connection; a single writer keeps every statement
	// of a transaction on the connection that has the pragma applied.
	db.SetMaxOpenConns(1)

	if logger != nil {
		logger.Infow("Database opened successfully",
			"path", path,
			"driver", driver,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies all pending migrations.
func OpenWithMigrations(driver, path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := OpenDriver(driver, path, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return db, nil
}
