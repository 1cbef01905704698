package commands

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/artefact/eats/eats/seed"
	"github.com/artefact/eats/errors"
)

// SeedCmd loads an infrastructure vocabulary.
var SeedCmd = &cobra.Command{
	Use:   "seed FILE.yaml",
	Short: "Load infrastructure from a YAML vocabulary",
	Long: `Create the calendars, languages, scripts, authorities, users and other
infrastructure a YAML vocabulary lists. Existing items are matched by name
and left in place; authority permitted sets and user settings are replaced.
Everything is applied in one transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", args[0])
	}
	defer f.Close()

	vocab, err := seed.Load(f)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", args[0])
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := seed.Apply(cmd.Context(), s.store, vocab)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Seeded %s: %d items, %d authorities, %d users created",
		args[0], result.Items, result.Authorities, result.Users)
	return nil
}
