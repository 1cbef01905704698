package config

import (
	"net/url"

	"github.com/artefact/eats/db"
	"github.com/artefact/eats/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.WithHint(errors.New("database.path cannot be empty"),
			"omit it for the default "+DefaultDatabasePath)
	}
	if !db.IsSupportedDriver(c.Database.Driver) {
		return errors.Newf("database.driver must be %q or %q, got %q",
			db.DriverCGO, db.DriverPureGo, c.Database.Driver)
	}

	u, err := url.Parse(c.EATS.BaseURL)
	if err != nil {
		return errors.Wrapf(err, "eats.base_url %q", c.EATS.BaseURL)
	}
	if !u.IsAbs() || u.Host == "" {
		return errors.Newf("eats.base_url must be an absolute URL, got %q", c.EATS.BaseURL)
	}
	return nil
}
