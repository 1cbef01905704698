package commands

import (
	"os"
	"strings"

	"github.com/beevik/etree"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/artefact/eats/eats/eatsml"
	"github.com/artefact/eats/errors"
	"github.com/artefact/eats/logger"
)

// ExportCmd writes EATSML.
var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export entities or infrastructure as EATSML",
	Long: `Export EATSML to stdout or a file. Output files ending in .zst are
zstd-compressed.

Examples:
  eats export --entity 12 --entity 15       # Two entities and what they use
  eats export --full -o backup.xml.zst      # Everything, compressed
  eats export --infrastructure --user jamie # What jamie may edit
  eats export --full --strip                # A document that recreates the store`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var exportFlags struct {
	entities       []int64
	full           bool
	infrastructure bool
	user           string
	output         string
	strip          bool
}

func init() {
	f := ExportCmd.Flags()
	f.Int64SliceVar(&exportFlags.entities, "entity", nil, "Entity id to export (repeatable)")
	f.BoolVar(&exportFlags.full, "full", false, "Export every authority, item and entity")
	f.BoolVar(&exportFlags.infrastructure, "infrastructure", false, "Export authorities and items only")
	f.StringVar(&exportFlags.user, "user", "", "Export as this user (defaults to eats.default_user)")
	f.StringVarP(&exportFlags.output, "output", "o", "", "Output file (default stdout)")
	f.BoolVar(&exportFlags.strip, "strip", false, "Remove eats_id and url attributes so the document describes new objects")
	ExportCmd.MarkFlagsMutuallyExclusive("entity", "full", "infrastructure")
	ExportCmd.MarkFlagsOneRequired("entity", "full", "infrastructure")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.user(ctx, exportFlags.user)
	if err != nil {
		return err
	}
	exporter := eatsml.NewExporter(s.store, logger.ComponentLogger("export"))

	var doc *etree.Document
	switch {
	case exportFlags.full:
		doc, err = exporter.ExportFull(ctx)
	case exportFlags.infrastructure:
		doc, err = exporter.ExportInfrastructure(ctx, user)
	default:
		doc, err = exporter.ExportEntities(ctx, exportFlags.entities, user)
	}
	if newID, merged := errors.MergedInto(err); merged {
		return errors.WithHintf(err, "export entity %d instead", newID)
	}
	if err != nil {
		return err
	}
	if exportFlags.strip {
		doc = eatsml.StripIdentifiers(doc)
	}

	if exportFlags.output == "" {
		return eatsml.WriteDocument(cmd.OutOrStdout(), doc, false)
	}
	if err := writeDocumentFile(exportFlags.output, doc); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", exportFlags.output)
	return nil
}

// writeDocumentFile writes doc to path, compressed when path ends in .zst.
func writeDocumentFile(path string, doc *etree.Document) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := eatsml.WriteDocument(f, doc, strings.HasSuffix(path, ".zst")); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}
