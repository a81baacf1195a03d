package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/db"
	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/logger"
	"github.com/teranos/pressline/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.Short("db"),
	Long: sym.DB + ` db - Manage the pressline job store

Examples:
  pressline db migrate   # Apply pending migrations
  pressline db stats     # Show job counts per status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := migrate(cmd.Context(), cfg); err != nil {
			return err
		}
		pterm.Success.Printf("%s Schema is up to date (%s)\n", sym.DB, cfg.Database.Driver)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, svc, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.Store().Stats(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "failed to read queue stats")
		}

		location := cfg.GetDatabasePath()
		if cfg.Database.Driver == am.DriverPostgres {
			location = "postgres"
		}
		fmt.Printf("%s Database Statistics\n", sym.DB)
		fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
		fmt.Printf("Database:    %s\n", location)
		fmt.Printf("Pending:     %d\n", stats.Pending)
		fmt.Printf("Processing:  %d\n", stats.Processing)
		fmt.Printf("Completed:   %d\n", stats.Completed)
		fmt.Printf("Scheduled:   %d\n", stats.Scheduled)
		fmt.Printf("Failed:      %d\n", stats.Failed)
		fmt.Printf("Total:       %d\n", stats.Total)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

// migrate applies the migrations of the configured driver
func migrate(ctx context.Context, cfg *am.Config) error {
	if cfg.Database.Driver == am.DriverPostgres {
		pool, err := db.OpenPostgres(ctx, cfg.Database.DSN, logger.Logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		return db.MigratePostgres(ctx, pool, logger.Logger)
	}

	conn, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.Logger)
	if err != nil {
		return errors.Wrapf(err, "failed to migrate %s", cfg.GetDatabasePath())
	}
	return conn.Close()
}
