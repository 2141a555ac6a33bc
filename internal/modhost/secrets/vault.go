package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	vaultapi "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultOptions configures a KV version 2 backend.
type VaultOptions struct {
	Address    string
	Token      string
	Mount      string
	MaxRetries int
}

// VaultBackend stores secrets in a Vault KV v2 engine. Payloads live under
// the "data" key of each version.
type VaultBackend struct {
	client *vaultapi.Client
	mount  string
}

func NewVaultBackend(opts VaultOptions) (*VaultBackend, error) {
	cfg := vaultapi.DefaultConfig()
	if cfg.Error != nil {
		return nil, cfg.Error
	}
	if opts.Address != "" {
		cfg.Address = opts.Address
	}
	cfg.MaxRetries = opts.MaxRetries

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}
	if opts.Token != "" {
		client.SetToken(opts.Token)
	}
	mount := strings.Trim(opts.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return &VaultBackend{client: client, mount: mount}, nil
}

func (v *VaultBackend) dataPath(path string) string {
	return v.mount + "/data/" + path
}

func (v *VaultBackend) metadataPath(path string) string {
	return v.mount + "/metadata/" + path
}

func (v *VaultBackend) Read(ctx context.Context, path string) (map[string]any, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.dataPath(path))
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		// deleted versions keep metadata but carry a null payload
		return nil, nil
	}
	return data, nil
}

func (v *VaultBackend) Write(ctx context.Context, path string, payload map[string]any) error {
	_, err := v.client.Logical().WriteWithContext(ctx, v.dataPath(path), map[string]any{
		"data": payload,
	})
	return err
}

// Delete removes every version and the metadata of path.
func (v *VaultBackend) Delete(ctx context.Context, path string) error {
	_, err := v.client.Logical().DeleteWithContext(ctx, v.metadataPath(path))
	return err
}

// WaitReady polls the health endpoint until Vault reports itself initialized
// and unsealed.
func (v *VaultBackend) WaitReady(ctx context.Context, attempts uint) error {
	return retry.Do(
		func() error {
			health, err := v.client.Sys().HealthWithContext(ctx)
			if err != nil {
				return err
			}
			if !health.Initialized || health.Sealed {
				return fmt.Errorf("vault not ready: initialized=%t sealed=%t", health.Initialized, health.Sealed)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Msg("waiting for vault")
		}),
	)
}
