package secrets

import (
	"context"

	"github.com/tansive/modhost/internal/modhost/config"
)

// NewBackend builds the backend named by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.SecretsConfig) (Backend, error) {
	switch cfg.Backend {
	case "vault":
		return NewVaultBackend(VaultOptions{
			Address:    cfg.Vault.Address,
			Token:      cfg.Vault.Token,
			Mount:      cfg.Vault.Mount,
			MaxRetries: cfg.Vault.MaxRetries,
		})
	case "aws":
		return NewAWSBackend(ctx, cfg.AWS.Region, cfg.AWS.Prefix)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, ErrUnknownBackend.Msg("unknown secret backend: " + cfg.Backend)
	}
}
