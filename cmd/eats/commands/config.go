package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artefact/eats/config"
	"github.com/artefact/eats/errors"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage EATS configuration",
	Long: `Manage EATS configuration.

Configuration sources (in order of precedence):
1. --config file
2. Environment variables (EATS_* prefix, e.g. EATS_DATABASE_PATH)
3. Project config (eats.toml in the working directory or a parent)
4. User config (~/.eats/config.toml)
5. System config (/etc/eats/config.toml)
6. Default values

Examples:
  eats config init                 # Write ~/.eats/config.toml
  eats config show --format json   # Show the effective configuration
  eats config where                # Show which files were read`,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter config file",
	Long:  "Write a config file holding the defaults, at path or ~/.eats/config.toml",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Args:  cobra.NoArgs,
	RunE:  runConfigWhere,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configWhereCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		path = config.DefaultSources("").UserFile()
		if path == "" {
			return errors.New("could not determine home directory; give a path")
		}
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	var data []byte
	switch configFormat {
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(cfg)
	case "toml":
		data, err = toml.Marshal(cfg)
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to marshal config to %s", configFormat)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runConfigWhere(cmd *cobra.Command, args []string) error {
	sources := config.DefaultSources(Options.ConfigPath)
	_, loaded, err := config.NewViper(sources)
	if err != nil {
		return err
	}
	read := make(map[string]bool, len(loaded))
	for _, path := range loaded {
		read[path] = true
	}

	candidates := []string{sources.SystemFile, sources.UserFile()}
	if project := sources.ProjectConfig(); project != "" {
		candidates = append(candidates, project)
	} else {
		candidates = append(candidates, filepath.Join(sources.WorkDir, config.ProjectFile))
	}
	if sources.ExplicitFile != "" {
		candidates = append(candidates, sources.ExplicitFile)
	}

	fmt.Println("Configuration files, lowest precedence first:")
	for _, path := range candidates {
		if read[path] {
			pterm.Success.Println(path)
		} else {
			pterm.Info.Printfln("%s (not found)", path)
		}
	}
	fmt.Printf("Environment overrides use the %s_ prefix.\n", config.EnvPrefix)
	return nil
}
