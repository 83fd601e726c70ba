package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/marcus/tracker/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database or upgrade its schema",
	Long: `Create the SQLite database at the configured path if it does not exist,
then apply any pending schema migrations. Safe to run repeatedly.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, statErr := os.Stat(cfg.DBPath)
		existed := statErr == nil

		database, err := db.Initialize(cfg.DBDriver, cfg.DBPath)
		if err != nil {
			color.Red("✗ Migration failed: %v\n", err)
			return err
		}
		defer database.Close()

		v, err := database.SchemaVersionOf(contextOrBackground(cmd))
		if err != nil {
			return err
		}
		if existed {
			color.Green("✓ Database %s is at schema version %d\n", cfg.DBPath, v)
		} else {
			color.Green("✓ Created database %s (schema version %d)\n", cfg.DBPath, v)
		}
		if v != db.SchemaVersion {
			color.Yellow("⚠ Expected schema version %d\n", db.SchemaVersion)
			return fmt.Errorf("schema version %d, want %d", v, db.SchemaVersion)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
