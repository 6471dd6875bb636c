package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretResolver turns a credential's SecretRef into secret material.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) ([]byte, error)
}

// VaultReader reads one field of a secret, addressed as "path#field".
type VaultReader interface {
	Read(ctx context.Context, ref string) ([]byte, error)
}

// RefResolver understands "env:NAME", "file:path" and, when Vault is set,
// "vault:path#field" references. Relative file paths are joined to Dir.
type RefResolver struct {
	Dir   string
	Vault VaultReader
}

func (r RefResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	scheme, value, ok := strings.Cut(ref, ":")
	if !ok || value == "" {
		return nil, fmt.Errorf("malformed secret reference %q", ref)
	}

	switch scheme {
	case "env":
		v, ok := os.LookupEnv(value)
		if !ok {
			return nil, fmt.Errorf("secret env %s not set", value)
		}
		return []byte(v), nil
	case "file":
		path := value
		if !filepath.IsAbs(path) && r.Dir != "" {
			path = filepath.Join(r.Dir, path)
		}
		return os.ReadFile(path)
	case "vault":
		if r.Vault == nil {
			return nil, fmt.Errorf("secret %q needs vault, which is not configured", ref)
		}
		return r.Vault.Read(ctx, value)
	default:
		return nil, fmt.Errorf("unsupported secret scheme %q", scheme)
	}
}
