package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zatekoja/procedurecopilot/backend/internal/bootstrap"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
)

// cfg is loaded in PersistentPreRunE.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "sessionctl",
	Short:        "Administer procedure sessions",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := bootstrap.LoadConfig(cmd.Context())
		if err != nil {
			return err
		}
		cfg = loaded
		observability.InitLogger("sessionctl", cfg.Environment)
		return nil
	},
}

// openApp connects to the stores without applying migrations.
func openApp(ctx context.Context) (*bootstrap.App, error) {
	c := *cfg
	c.Database.MigrateOnStart = false
	return bootstrap.New(ctx, &c, nil)
}
