package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// MergeCmd merges two entities.
var MergeCmd = &cobra.Command{
	Use:   "merge KEEP ABSORB",
	Short: "Merge ABSORB into KEEP",
	Long: `Merge two entities that denote the same thing. Every assertion of ABSORB
moves to KEEP unless KEEP already has an identical one, relationships and
names follow, and ABSORB's id becomes a redirect to KEEP. Nothing changes if
any step fails.`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	keep, err := parseID(args[0])
	if err != nil {
		return err
	}
	absorb, err := parseID(args[1])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.store.MergeEntities(cmd.Context(), keep, absorb)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Merged entity %d into %d: %d assertions moved, %d duplicates dropped",
		result.AbsorbedID, result.KeptID, result.Moved, result.Duplicates)
	return nil
}
