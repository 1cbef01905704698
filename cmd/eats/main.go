package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artefact/eats/cmd/eats/commands"
	"github.com/artefact/eats/logger"
)

var rootCmd = &cobra.Command{
	Use:   "eats",
	Short: "EATS - Entity Authority Tool Set",
	Long: `EATS - Entity Authority Tool Set.

EATS records what authorities assert about entities (people, places,
organisations...): their names, types, relationships, dates and notes,
each claim attributed to the authority that makes it.

Available commands:
  db      - Migrate the database and show statistics
  config  - Write and show configuration
  seed    - Load infrastructure vocabularies from YAML
  entity  - Create, show and delete entities
  search  - Search entity names by prefix
  merge   - Merge two entities that denote the same thing
  export  - Export entities or infrastructure as EATSML
  import  - Import an EATSML document

Examples:
  eats db migrate                     # Create or upgrade the database
  eats seed vocabulary.yaml           # Load calendars, languages, authorities...
  eats export --entity 12 -o out.xml  # Export one entity
  eats import out.xml --echo echo.xml # Import, writing the pruned document`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := commands.LoadConfig()
		jsonLog := commands.Options.JSONLog
		if err == nil && !cmd.Flags().Changed("json-log") {
			jsonLog = cfg.Log.JSON
		}
		level := logger.VerbosityToLevel(commands.Options.Verbosity)
		if err := logger.InitializeWithLevel(jsonLog, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		// Configuration errors surface from the command that needs it;
		// config init must work without a valid config.
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&commands.Options.ConfigPath, "config", "", "Config file (highest precedence)")
	flags.BoolVar(&commands.Options.JSONLog, "json-log", false, "Write logs as JSON")
	flags.CountVarP(&commands.Options.Verbosity, "verbose", "v", "Increase output verbosity (-v, -vv)")

	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.SeedCmd)
	rootCmd.AddCommand(commands.EntityCmd)
	rootCmd.AddCommand(commands.SearchCmd)
	rootCmd.AddCommand(commands.MergeCmd)
	rootCmd.AddCommand(commands.ExportCmd)
	rootCmd.AddCommand(commands.ImportCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
