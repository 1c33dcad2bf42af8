package secrets

import (
	"fmt"
	"log"
	"os"

	vault "github.com/sosedoff/ansible-vault-go"
	yaml "gopkg.in/yaml.v3"
)

// AnsibleVaultProvider resolves a play's sudo_pass/remote_pass/secrets entries out of
// an ansible-vault encrypted YAML file, decrypted once at construction time.
type AnsibleVaultProvider struct {
	data map[string]interface{}
}

// NewAnsibleVaultProvider decrypts vaultPath with secret and loads its key/value pairs.
func NewAnsibleVaultProvider(vaultPath, secret string) (*AnsibleVaultProvider, error) {
	fi, err := os.Lstat(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("can't stat vault file %s: %w", vaultPath, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", vaultPath)
	}

	decryptedVault, err := vault.DecryptFile(vaultPath, secret)
	if err != nil {
		return nil, fmt.Errorf("can't decrypt vault file %s: %w", vaultPath, err)
	}
	log.Printf("[INFO] ansible vault file decrypted")

	m := make(map[string]interface{})
	if err := yaml.Unmarshal([]byte(decryptedVault), &m); err != nil {
		return nil, fmt.Errorf("can't unmarshal decrypted vault %s: %w", vaultPath, err)
	}
	return &AnsibleVaultProvider{m}, nil
}

// Get returns the decrypted value for key.
func (p *AnsibleVaultProvider) Get(key string) (string, error) {
	if keyValue, ok := p.data[key]; ok {
		return fmt.Sprintf("%v", keyValue), nil
	}
	return "", fmt.Errorf("key %q not found in vault", key)
}
