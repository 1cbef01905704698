// Package commands implements the eats CLI subcommands.
package commands

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/artefact/eats/config"
	"github.com/artefact/eats/db"
	"github.com/artefact/eats/eats/storage"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
	"github.com/artefact/eats/logger"
)

// Options holds the root command's persistent flags.
var Options struct {
	ConfigPath string
	JSONLog    bool
	Verbosity  int
}

// LoadConfig loads configuration from the standard sources and --config.
func LoadConfig() (*config.Config, error) {
	return config.Load(config.DefaultSources(Options.ConfigPath))
}

// session is an open, migrated database and a store over it.
type session struct {
	cfg   *config.Config
	db    *sql.DB
	store *storage.Store
}

// openSession opens and migrates the configured database.
func openSession() (*session, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.OpenWithMigrations(cfg.Database.Driver, cfg.Database.Path, logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}

	return &session{
		cfg:   cfg,
		db:    database,
		store: storage.NewStore(database, cfg.EATS.BaseURL, logger.ComponentLogger("storage")),
	}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

// user resolves the acting editor: the named user, else the configured
// default, else none.
func (s *session) user(ctx context.Context, username string) (*types.User, error) {
	if username == "" {
		username = s.cfg.EATS.DefaultUser
	}
	if username == "" {
		return nil, nil
	}
	u, err := s.store.GetUserByName(ctx, username)
	if err != nil {
		return nil, errors.Wrapf(err, "user %q", username)
	}
	return u, nil
}

// authority resolves an authority given by id or by name.
func (s *session) authority(ctx context.Context, ref string) (*types.Authority, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.store.GetAuthority(ctx, id)
	}
	return s.store.FindAuthority(ctx, ref)
}

// item resolves an infrastructure item of kind given by id or by name. An
// empty ref resolves to zero.
func (s *session) item(ctx context.Context, kind types.Kind, ref string) (int64, error) {
	if ref == "" {
		return 0, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		item, err := s.store.GetItemOfKind(ctx, kind, id)
		if err != nil {
			return 0, err
		}
		return item.ID, nil
	}
	item, err := s.store.FindItem(ctx, kind, ref, "")
	if err != nil {
		return 0, err
	}
	return item.ID, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Newf("%q is not an entity id", arg)
	}
	return id, nil
}
