package orchestrator

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// loadVarsFile reads a per-host-group variables file referenced by a play's
// vars_files, resolved against baseDir, the same YAML/TOML dual format
// pkg/config.Load accepts for the playbook itself.
func loadVarsFile(baseDir, path string) (map[string]any, error) {
	full := path
	if baseDir != "" && !filepath.IsAbs(path) {
		full = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(full) // nolint:gosec
	if err != nil {
		return nil, err
	}

	vars := map[string]any{}
	if strings.HasSuffix(full, ".toml") {
		if err := toml.Unmarshal(data, &vars); err != nil {
			return nil, err
		}
		return vars, nil
	}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}
