package bootstrap

import (
	"context"
	"fmt"

	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	"github.com/zatekoja/procedurecopilot/backend/pkg/secrets"
)

// LoadConfig applies Vault secrets to the environment, when enabled, and then
// loads configuration from it.
func LoadConfig(ctx context.Context) (*config.Config, error) {
	result, err := secrets.ApplyVaultSecrets(ctx, secrets.LoadVaultConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to load vault secrets: %w", err)
	}
	if result.Enabled {
		observability.GetLogger().Info().
			Str("path", result.Path).
			Strs("loaded", result.Loaded).
			Strs("skipped", result.Skipped).
			Msg("vault secrets applied")
	}
	return config.Load()
}
