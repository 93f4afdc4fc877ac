package main

import (
	"github.com/spf13/cobra"

	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/procedurecopilot/backend/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postgres.RunMigrations(cfg.Database.DatabaseURL(), migrations.FS); err != nil {
			return err
		}
		cmd.Println("migrations applied")
		return nil
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := postgres.MigrateDown(cfg.Database.DatabaseURL(), migrations.FS, migrateDownSteps); err != nil {
			return err
		}
		cmd.Printf("rolled back %d migration(s)\n", migrateDownSteps)
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		version, dirty, err := postgres.MigrationVersion(cfg.Database.DatabaseURL(), migrations.FS)
		if err != nil {
			return err
		}
		cmd.Printf("version: %d dirty: %t\n", version, dirty)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
