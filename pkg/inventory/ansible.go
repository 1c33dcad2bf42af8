package inventory

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadAnsibleINI populates inv from a classic ansible-style static inventory file:
// "[group]" section headers followed by "host [ansible_user=...] [ansible_port=...]
// [key=value ...]" lines, plus an optional group_vars directory sitting next to path
// (group_vars/<group>.yml, one file per group, "all.yml" feeding the synthetic "all" group).
func LoadAnsibleINI(inv *Inventory, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("can't read inventory file %q: %w", path, err)
	}

	currentGroup := ""
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentGroup = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		h, err := parseInventoryLine(line, currentGroup)
		if err != nil {
			return fmt.Errorf("can't parse inventory line %q: %w", line, err)
		}
		inv.AddHost(h)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("can't scan inventory file %q: %w", path, err)
	}

	loadGroupVars(inv, filepath.Join(filepath.Dir(path), "group_vars"))
	return nil
}

func parseInventoryLine(line, group string) (Host, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Host{}, fmt.Errorf("empty host line")
	}

	h := Host{Name: fields[0], Addr: fields[0], Port: 22, Group: group}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "ansible_host":
			h.Addr = v
		case "ansible_user":
			h.User = v
		case "ansible_port":
			port, err := strconv.Atoi(v)
			if err != nil {
				return Host{}, fmt.Errorf("can't parse ansible_port %q: %w", v, err)
			}
			h.Port = port
		case "tags":
			h.Tags = strings.Split(v, ";")
		}
	}
	return h, nil
}

// loadGroupVars reads every <dir>/<group>.{yml,yaml} file as that group's vars, best effort:
// a missing directory or unreadable file is silently skipped, since group_vars is
// always optional.
func loadGroupVars(inv *Inventory, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		vars := map[string]any{}
		if err := yaml.Unmarshal(data, &vars); err != nil {
			continue
		}
		group := strings.TrimSuffix(strings.TrimSuffix(name, ".yml"), ".yaml")
		inv.SetGroupVars(group, vars)
	}
}
