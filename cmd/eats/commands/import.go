package commands

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/artefact/eats/eats/eatsml"
	"github.com/artefact/eats/errors"
	"github.com/artefact/eats/logger"
)

// ImportCmd reads EATSML into the store.
var ImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import an EATSML document",
	Long: `Import an EATSML document (plain or zstd-compressed). Objects without an
eats_id are created; objects with one must already exist. Nothing is created
if any part of the document fails. With a user, assertions may only use
authorities that user edits or that the document itself creates.

--echo writes the pruned document: what was imported, with existing objects
nothing new refers to removed. --annotated writes the whole document with
every object's eats_id filled in.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importFlags struct {
	user      string
	echo      string
	annotated string
}

func init() {
	f := ImportCmd.Flags()
	f.StringVar(&importFlags.user, "user", "", "Import as this user (defaults to eats.default_user)")
	f.StringVar(&importFlags.echo, "echo", "", "Write the pruned document to this file")
	f.StringVar(&importFlags.annotated, "annotated", "", "Write the annotated document to this file")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	in, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", args[0])
	}
	doc, err := eatsml.ParseDocument(in)
	in.Close()
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.user(ctx, importFlags.user)
	if err != nil {
		return err
	}

	importer := eatsml.NewImporter(s.store, logger.ComponentLogger("import"))
	pruned, annotated, stats, err := importer.ImportWithStats(ctx, doc, user)
	if err != nil {
		return err
	}

	if importFlags.echo != "" {
		if err := writeDocumentFile(importFlags.echo, pruned); err != nil {
			return err
		}
	}
	if importFlags.annotated != "" {
		if err := writeDocumentFile(importFlags.annotated, annotated); err != nil {
			return err
		}
	}

	pterm.Success.Printfln("Imported %s: %d items, %d authorities, %d entities, %d assertions created",
		args[0], stats.Items, stats.Authorities, stats.Entities, stats.Assertions)
	return nil
}
