package commands

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// SearchCmd searches the name index.
var SearchCmd = &cobra.Command{
	Use:   "search PREFIX",
	Short: "Search entity names by prefix",
	Long: `Search the name index for entities with a name word starting with PREFIX.
Matching is case-insensitive.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var searchLimit int

func init() {
	SearchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of matches")
}

func runSearch(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	matches, err := s.store.SearchNames(cmd.Context(), args[0], searchLimit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		pterm.Info.Printfln("No names start with %q", args[0])
		return nil
	}

	data := pterm.TableData{{"Entity", "Name"}}
	for _, m := range matches {
		data = append(data, []string{strconv.FormatInt(m.EntityID, 10), m.Form})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
