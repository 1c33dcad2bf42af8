package secrets

import (
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// HashiVaultProvider resolves sudo_pass/remote_pass/secrets entries against a running
// Vault server. defaultPath anchors plain field names (no "#"); a key of the form
// "secret/data/host1#sudo_pass" reaches across to a different path in the same call,
// so one provider instance can back an entire playbook instead of a single path.
type HashiVaultProvider struct {
	client      *api.Client
	defaultPath string
}

// NewHashiVaultProvider dials addr with token and anchors Get's bare keys at defaultPath.
func NewHashiVaultProvider(addr, defaultPath, token string) (*HashiVaultProvider, error) {
	client, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("error creating vault client: %w", err)
	}
	client.SetToken(token)
	return &HashiVaultProvider{client: client, defaultPath: defaultPath}, nil
}

// Get reads a secret field from Vault. key is either a bare field name, resolved
// against defaultPath, or "path#field" to read from a different path than the one
// the provider was constructed with.
func (p *HashiVaultProvider) Get(key string) (string, error) {
	path, field := p.defaultPath, key
	if idx := strings.LastIndex(key, "#"); idx >= 0 {
		path, field = key[:idx], key[idx+1:]
	}
	if path == "" {
		return "", fmt.Errorf("hashi vault: no path for key %q", key)
	}

	secret, err := p.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("error reading secret from vault path %q: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %q", path)
	}

	// KV v2 mounts wrap the real fields under a "data" key; KV v1 mounts don't.
	data := secret.Data
	if wrapped, ok := secret.Data["data"].(map[string]any); ok {
		data = wrapped
	}

	value, ok := data[field].(string)
	if !ok {
		return "", fmt.Errorf("field %q not found (or not a string) at path %q", field, path)
	}
	return value, nil
}
