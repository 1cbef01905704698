// Package config loads EATS configuration from TOML files and EATS_*
// environment variables.
package config

import "fmt"

// Config is the EATS configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	EATS     EATSConfig     `mapstructure:"eats" toml:"eats"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path   string `mapstructure:"path" toml:"path"`
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite3 (cgo) or sqlite (pure Go)
}

// EATSConfig configures the entity store itself.
type EATSConfig struct {
	// BaseURL prefixes entity subject identifiers: {base_url}entity/{id}/
	BaseURL string `mapstructure:"base_url" toml:"base_url"`

	// DefaultUser is the editor the CLI acts as when --user is not given.
	// Empty means no user: imports are unrestricted.
	DefaultUser string `mapstructure:"default_user" toml:"default_user"`
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s (%s), BaseURL: %s, DefaultUser: %q}",
		c.Database.Path, c.Database.Driver, c.EATS.BaseURL, c.EATS.DefaultUser)
}
