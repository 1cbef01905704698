package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artefact/eats/db"
	"github.com/artefact/eats/eats/eatsml"
	"github.com/artefact/eats/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show EATS version information",
	Long:  `Display the eats version, commit, build time and platform, with the database schema version and EATSML namespace it reads and writes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		info := version.Get()
		info.EATSML = eatsml.Namespace
		if migrations, err := db.Migrations(); err == nil && len(migrations) > 0 {
			info.SchemaVersion = migrations[len(migrations)-1].Version
		}

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to format version as JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		fmt.Fprintf(cmd.OutOrStdout(), "Platform: %s\n", info.Platform)
		fmt.Fprintf(cmd.OutOrStdout(), "Go: %s\n", info.GoVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "Schema: %s\n", info.SchemaVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "EATSML: %s\n", info.EATSML)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
}
