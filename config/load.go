package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/artefact/eats/errors"
)

// EnvPrefix prefixes environment overrides: EATS_DATABASE_PATH sets
// database.path.
const EnvPrefix = "EATS"

// ProjectFile is the per-project config file name, found by walking up from
// the working directory.
const ProjectFile = "eats.toml"

// Sources lists where configuration is read from. Precedence, lowest to
// highest: defaults, SystemFile, the user file under HomeDir, the project
// file above WorkDir, environment variables, ExplicitFile.
type Sources struct {
	SystemFile   string
	HomeDir      string
	WorkDir      string
	ExplicitFile string
}

// DefaultSources returns the standard locations, with explicit as the
// --config file (empty for none).
func DefaultSources(explicit string) Sources {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()
	return Sources{
		SystemFile:   "/etc/eats/config.toml",
		HomeDir:      home,
		WorkDir:      wd,
		ExplicitFile: explicit,
	}
}

// UserFile returns ~/.eats/config.toml for these sources.
func (s Sources) UserFile() string {
	if s.HomeDir == "" {
		return ""
	}
	return filepath.Join(s.HomeDir, ".eats", "config.toml")
}

// ProjectConfig searches for eats.toml by walking up from WorkDir. It
// returns "" when none is found.
func (s Sources) ProjectConfig() string {
	dir := s.WorkDir
	if dir == "" {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// NewViper builds a viper instance from sources. It returns the files that
// were read, in precedence order.
func NewViper(s Sources) (*viper.Viper, []string, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var loaded []string
	// Discovered files merge into the config layer, which environment
	// variables override.
	for _, path := range []string{s.SystemFile, s.UserFile(), s.ProjectConfig()} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		settings, err := readFile(path)
		if err != nil {
			return nil, nil, err
		}
		if err := v.MergeConfigMap(settings.AllSettings()); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to merge config file %s", path)
		}
		loaded = append(loaded, path)
	}

	// An explicit file beats everything, environment included.
	if s.ExplicitFile != "" {
		settings, err := readFile(s.ExplicitFile)
		if err != nil {
			return nil, nil, err
		}
		for _, key := range settings.AllKeys() {
			v.Set(key, settings.Get(key))
		}
		loaded = append(loaded, s.ExplicitFile)
	}
	return v, loaded, nil
}

func readFile(path string) (*viper.Viper, error) {
	f := viper.New()
	f.SetConfigFile(path)
	f.SetConfigType("toml")
	if err := f.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return f, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// Load reads and validates configuration from sources.
func Load(s Sources) (*Config, error) {
	v, _, err := NewViper(s)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
