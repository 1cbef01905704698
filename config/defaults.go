package config

import (
	"github.com/spf13/viper"

	"github.com/artefact/eats/db"
)

// Default values
const (
	DefaultDatabasePath = "eats.db"
	DefaultBaseURL      = "http://localhost/"
)

// DefaultDirPermissions is used for ~/.eats.
const DefaultDirPermissions = 0750

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.driver", db.DriverCGO)

	v.SetDefault("eats.base_url", DefaultBaseURL)
	v.SetDefault("eats.default_user", "")

	v.SetDefault("log.json", false)
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDatabasePath, Driver: db.DriverCGO},
		EATS:     EATSConfig{BaseURL: DefaultBaseURL},
	}
}
