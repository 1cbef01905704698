package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/artefact/eats/errors"
)

// WriteDefault writes a starter config file at path. An existing file is
// left alone and reported as an error.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}

	data, err := toml.Marshal(Default())
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	header := []byte("# EATS configuration\n# Environment variables (EATS_DATABASE_PATH, ...) override these values.\n\n")
	if err := os.WriteFile(path, append(header, data...), 0644); err != nil {
		return errors.Wrapf(err, "failed to write config file %s", path)
	}
	return nil
}
