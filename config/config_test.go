package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artefact/eats/db"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// isolated returns sources that read nothing outside dir.
func isolated(dir string) Sources {
	return Sources{
		SystemFile: filepath.Join(dir, "etc", "config.toml"),
		HomeDir:    filepath.Join(dir, "home"),
		WorkDir:    filepath.Join(dir, "work", "nested"),
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(isolated(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "eats.db", cfg.Database.Path)
	assert.Equal(t, db.DriverCGO, cfg.Database.Driver)
	assert.Equal(t, "http://localhost/", cfg.EATS.BaseURL)
	assert.False(t, cfg.Log.JSON)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	s := isolated(dir)
	writeFile(t, s.SystemFile, "[database]\npath = \"system.db\"\ndriver = \"sqlite\"\n[eats]\ndefault_user = \"system\"\n")
	writeFile(t, s.UserFile(), "[database]\npath = \"user.db\"\n[log]\njson = true\n")
	writeFile(t, filepath.Join(dir, "work", ProjectFile), "[database]\npath = \"project.db\"\n")

	v, loaded, err := NewViper(s)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, "project.db", cfg.Database.Path, "project file found above the working directory")
	assert.Equal(t, db.DriverPureGo, cfg.Database.Driver, "keys a later file omits survive")
	assert.Equal(t, "system", cfg.EATS.DefaultUser)
	assert.True(t, cfg.Log.JSON)

	t.Run("environment beats files", func(t *testing.T) {
		t.Setenv("EATS_DATABASE_PATH", "env.db")
		cfg, err := Load(s)
		require.NoError(t, err)
		assert.Equal(t, "env.db", cfg.Database.Path)
	})

	t.Run("explicit file beats environment", func(t *testing.T) {
		t.Setenv("EATS_DATABASE_PATH", "env.db")
		explicit := s
		explicit.ExplicitFile = filepath.Join(dir, "explicit.toml")
		writeFile(t, explicit.ExplicitFile, "[database]\npath = \"explicit.db\"\n")

		cfg, err := Load(explicit)
		require.NoError(t, err)
		assert.Equal(t, "explicit.db", cfg.Database.Path)
		assert.Equal(t, db.DriverPureGo, cfg.Database.Driver)
	})
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	s := isolated(t.TempDir())
	s.ExplicitFile = filepath.Join(t.TempDir(), "absent.toml")
	_, err := Load(s)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "pure Go driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "empty path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "relative base url", mutate: func(c *Config) { c.EATS.BaseURL = "/eats/" }, wantErr: true},
		{name: "unparseable base url", mutate: func(c *Config) { c.EATS.BaseURL = "http://[::1" }, wantErr: true},
		{name: "https base url", mutate: func(c *Config) { c.EATS.BaseURL = "https://eats.example.org/" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".eats", "config.toml")
	require.NoError(t, WriteDefault(path))

	s := isolated(t.TempDir())
	s.ExplicitFile = path
	cfg, err := Load(s)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Error(t, WriteDefault(path), "an existing file is not overwritten")
}
