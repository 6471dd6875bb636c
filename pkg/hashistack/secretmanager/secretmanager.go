package secretmanager

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"fleetops-controlplane/pkg/config"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault, NewKV))

// ProvideVault builds a vault client from VAULT_* environment variables,
// overridden by the VAULT config section. It returns nil when no address is
// known.
func ProvideVault(cfg *config.Config) (*vault.Client, error) {
	if cfg.Vault.Addr == "" && os.Getenv("VAULT_ADDR") == "" {
		zap.L().Info("[Vault] no address configured, vault secret references disabled")
		return nil, nil
	}

	opts := []vault.ClientOption{
		vault.WithEnvironment(),
		vault.WithRequestTimeout(10 * time.Second),
	}
	if cfg.Vault.Addr != "" {
		opts = append(opts, vault.WithAddress(cfg.Vault.Addr))
	}

	client, err := vault.New(opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Vault.Token != "" {
		if err := client.SetToken(cfg.Vault.Token); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// KV reads single fields from a KV v2 secrets engine.
type KV struct {
	client *vault.Client
	mount  string
}

func NewKV(cfg *config.Config, client *vault.Client) *KV {
	if client == nil {
		return nil
	}
	mount := cfg.Vault.Mount
	if mount == "" {
		mount = "secret"
	}
	return &KV{client: client, mount: mount}
}

// Read resolves "path#field". The field defaults to "value".
func (kv *KV) Read(ctx context.Context, ref string) ([]byte, error) {
	path, field, _ := strings.Cut(ref, "#")
	if field == "" {
		field = "value"
	}

	resp, err := kv.client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(kv.mount))
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", path, err)
	}

	v, ok := resp.Data.Data[field]
	if !ok {
		return nil, fmt.Errorf("vault secret %s has no field %q", path, field)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("vault secret %s field %q is not a string", path, field)
	}
	return []byte(s), nil
}
