package commands

import (
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/artefact/eats/db"
	"github.com/artefact/eats/errors"
	"github.com/artefact/eats/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the EATS database",
	Long: `Manage the EATS database.

Examples:
  eats db migrate   # Create the schema or apply pending migrations
  eats db stats     # Show row counts per table`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Long:  "Display row counts for the authority, infrastructure, entity, assertion, name and date tables",
	Args:  cobra.NoArgs,
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.OpenDriver(cfg.Database.Driver, cfg.Database.Path, logger.ComponentLogger("db"))
	if err != nil {
		return errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}
	defer database.Close()

	applied, err := db.MigrateReport(database, logger.ComponentLogger("db"))
	if err != nil {
		return errors.Wrapf(err, "failed to migrate %s", cfg.Database.Path)
	}
	if len(applied) == 0 {
		pterm.Info.Printfln("Database %s is already up to date", cfg.Database.Path)
		return nil
	}

	data := pterm.TableData{{"Version", "Migration"}}
	for _, m := range applied {
		data = append(data, []string{m.Version, m.Description})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Success.Printfln("Applied %d migrations to %s", len(applied), cfg.Database.Path)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.store.Stats(cmd.Context())
	if err != nil {
		return err
	}

	tables := make([]string, 0, len(stats))
	for table := range stats {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	data := pterm.TableData{{"Table", "Rows"}}
	for _, table := range tables {
		data = append(data, []string{table, strconv.FormatInt(stats[table], 10)})
	}

	pterm.DefaultSection.Printfln("Database %s (%s)", s.cfg.Database.Path, s.cfg.Database.Driver)
	return pterm.DefaultTable.WithHasHeader().WithRightAlignment().WithData(data).Render()
}
