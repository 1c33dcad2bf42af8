// Package config implements the playbook data model: a PlayBook is an ordered list of
// Plays, each binding a host pattern to a list of Tasks and Handlers. Loading supports
// both YAML and TOML.
package config

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/fleetplay/pkg/config/deepcopy"
)

// SecretsProvider resolves a secret key to its value, the same narrow contract
// pkg/secrets' providers (memory, internal, vault, aws, ansible-vault) all satisfy.
type SecretsProvider interface {
	Get(key string) (string, error)
}

// PlayBook is the top-level config object: an ordered sequence of plays.
type PlayBook struct {
	Plays []Play `yaml:"plays" toml:"plays"`

	secretsProvider SecretsProvider
	secrets         map[string]string // key -> resolved value, populated by LoadSecrets
}

// Play binds a host pattern to an ordered list of tasks and handlers, plus connection
// defaults and variables scoped to this play.
type Play struct {
	Name       string            `yaml:"name" toml:"name"`
	Hosts      string            `yaml:"hosts" toml:"hosts"` // pattern resolved by inventory.ListHosts
	RemoteUser string            `yaml:"remote_user" toml:"remote_user"`
	RemotePort int               `yaml:"remote_port" toml:"remote_port"`
	Transport  string            `yaml:"transport" toml:"transport"`
	Sudo       bool              `yaml:"sudo" toml:"sudo"`
	SudoUser   string            `yaml:"sudo_user" toml:"sudo_user"`
	Vars       map[string]any    `yaml:"vars" toml:"vars"`
	VarsFiles  []string          `yaml:"vars_files" toml:"vars_files"` // may contain templated paths
	Tasks      []Task            `yaml:"tasks" toml:"tasks"`
	Handlers   []Handler         `yaml:"handlers" toml:"handlers"`
}

// Task is a single module invocation within a play.
type Task struct {
	Name              string         `yaml:"name" toml:"name"`
	ModuleName        string         `yaml:"module_name" toml:"module_name"`
	ModuleArgs        string         `yaml:"module_args" toml:"module_args"`
	ModuleVars        map[string]any `yaml:"module_vars" toml:"module_vars"`
	Notify            []string       `yaml:"notify" toml:"notify"`
	OnlyIf            string         `yaml:"only_if" toml:"only_if"`
	AsyncSeconds      int            `yaml:"async_seconds" toml:"async_seconds"`
	AsyncPollInterval int            `yaml:"async_poll_interval" toml:"async_poll_interval"`
	Secrets           []string       `yaml:"secrets" toml:"secrets"` // keys resolved via SecretsProvider into ModuleVars

	Play *Play `yaml:"-" toml:"-"` // non-owning back-reference, set after load
}

// Handler is a Task that only runs when notified by another task's change, plus the
// set of hosts that have notified it so far in the current play. Fields are duplicated
// rather than embedding Task, since go-toml/v2 doesn't support inline struct tags the
// way yaml.v3 does.
type Handler struct {
	Name              string         `yaml:"name" toml:"name"`
	ModuleName        string         `yaml:"module_name" toml:"module_name"`
	ModuleArgs        string         `yaml:"module_args" toml:"module_args"`
	ModuleVars        map[string]any `yaml:"module_vars" toml:"module_vars"`
	OnlyIf            string         `yaml:"only_if" toml:"only_if"`
	AsyncSeconds      int            `yaml:"async_seconds" toml:"async_seconds"`
	AsyncPollInterval int            `yaml:"async_poll_interval" toml:"async_poll_interval"`
	Secrets           []string       `yaml:"secrets" toml:"secrets"`

	Play       *Play               `yaml:"-" toml:"-"`
	NotifiedBy map[string]struct{} `yaml:"-" toml:"-"`
}

// AsTask returns the Handler's fields as a Task, for running it through the same
// dispatch path as an ordinary task.
func (h *Handler) AsTask() Task {
	return Task{
		Name:              h.Name,
		ModuleName:        h.ModuleName,
		ModuleArgs:        h.ModuleArgs,
		ModuleVars:        h.ModuleVars,
		OnlyIf:            h.OnlyIf,
		AsyncSeconds:      h.AsyncSeconds,
		AsyncPollInterval: h.AsyncPollInterval,
		Secrets:           h.Secrets,
		Play:              h.Play,
	}
}

// Load reads a playbook file (YAML or TOML, guessed by extension) and wires each task's
// and handler's Play back-reference.
func Load(path string) (*PlayBook, error) {
	log.Printf("[DEBUG] request to load playbook %q", path)
	data, err := os.ReadFile(path) // nolint
	if err != nil {
		return nil, fmt.Errorf("can't read playbook %s: %w", path, err)
	}

	pb := &PlayBook{}
	if err := unmarshalPlaybook(path, data, pb); err != nil {
		return nil, fmt.Errorf("can't unmarshal playbook %s: %w", path, err)
	}

	if err := pb.validate(); err != nil {
		return nil, fmt.Errorf("playbook %s is invalid: %w", path, err)
	}

	for i := range pb.Plays {
		play := &pb.Plays[i]
		for j := range play.Tasks {
			play.Tasks[j].Play = play
		}
		for j := range play.Handlers {
			play.Handlers[j].Play = play
			play.Handlers[j].NotifiedBy = map[string]struct{}{}
		}
	}

	log.Printf("[INFO] playbook loaded with %d plays", len(pb.Plays))
	return pb, nil
}

// LoadSecrets resolves every task's and handler's Secrets keys through sp and merges
// the results into that task's/handler's ModuleVars, keyed by the secret name, so
// module_args templating sees them the same way it sees any other module_var. A
// playbook with secret keys but no provider is a configuration error; a playbook with
// no secret keys accepts a nil provider.
func (pb *PlayBook) LoadSecrets(sp SecretsProvider) error {
	keys := map[string]struct{}{}
	for _, play := range pb.Plays {
		for _, t := range play.Tasks {
			for _, k := range t.Secrets {
				keys[k] = struct{}{}
			}
		}
		for _, h := range play.Handlers {
			for _, k := range h.Secrets {
				keys[k] = struct{}{}
			}
		}
	}

	if sp == nil {
		if len(keys) > 0 {
			return fmt.Errorf("playbook references %d secret(s) but no secrets provider is configured", len(keys))
		}
		return nil
	}

	pb.secretsProvider = sp
	pb.secrets = make(map[string]string, len(keys))
	for k := range keys {
		val, err := sp.Get(k)
		if err != nil {
			return fmt.Errorf("can't get secret %q: %w", k, err)
		}
		pb.secrets[k] = val
	}

	for pi := range pb.Plays {
		play := &pb.Plays[pi]
		for ti := range play.Tasks {
			mergeSecrets(&play.Tasks[ti].ModuleVars, play.Tasks[ti].Secrets, pb.secrets)
		}
		for hi := range play.Handlers {
			mergeSecrets(&play.Handlers[hi].ModuleVars, play.Handlers[hi].Secrets, pb.secrets)
		}
	}
	return nil
}

func mergeSecrets(vars *map[string]any, keys []string, secrets map[string]string) {
	if len(keys) == 0 {
		return
	}
	if *vars == nil {
		*vars = map[string]any{}
	}
	for _, k := range keys {
		(*vars)[k] = secrets[k]
	}
}

// AllSecretValues returns every resolved secret value, used to mask them out of logs
// regardless of which task or handler referenced the key.
func (pb *PlayBook) AllSecretValues() []string {
	out := make([]string, 0, len(pb.secrets))
	for _, v := range pb.secrets {
		out = append(out, v)
	}
	return out
}

// unmarshalPlaybook picks yaml or toml by extension, falling back to yaml for
// extensionless paths.
func unmarshalPlaybook(path string, data []byte, pb *PlayBook) error {
	switch {
	case strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml") || filepath.Ext(path) == "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(pb); err != nil {
			return fmt.Errorf("can't unmarshal yaml playbook: %w", err)
		}
		return nil
	case strings.HasSuffix(path, ".toml"):
		if err := toml.Unmarshal(data, pb); err != nil {
			return fmt.Errorf("can't unmarshal toml playbook: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown playbook format %s", path)
	}
}

// validate checks structural invariants that must hold before a run starts: every play
// has a name and host pattern, every task has a module, notify targets a real handler,
// and handler names are unique within their play.
func (pb *PlayBook) validate() error {
	errs := new(multierror.Error)

	for pi, play := range pb.Plays {
		if play.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("play #%d: name is required", pi))
		}
		if play.Hosts == "" {
			errs = multierror.Append(errs, fmt.Errorf("play %q: hosts pattern is required", play.Name))
		}

		handlerNames := map[string]bool{}
		for _, h := range play.Handlers {
			if handlerNames[h.Name] {
				errs = multierror.Append(errs, fmt.Errorf("play %q: duplicate handler name %q", play.Name, h.Name))
			}
			handlerNames[h.Name] = true
		}

		for _, t := range play.Tasks {
			if t.Name == "" {
				errs = multierror.Append(errs, fmt.Errorf("play %q: task name is required", play.Name))
			}
			if t.ModuleName == "" {
				errs = multierror.Append(errs, fmt.Errorf("play %q, task %q: module_name is required", play.Name, t.Name))
			}
			for _, n := range t.Notify {
				if isTemplated(n) {
					// resolved against task.module_vars at dispatch time, so the handler
					// name isn't known until then; runTask's flagHandler checks it there.
					continue
				}
				if !handlerNames[n] {
					errs = multierror.Append(errs, fmt.Errorf(
						"play %q, task %q: notify references undefined handler %q", play.Name, t.Name, n))
				}
			}
		}
	}

	return errs.ErrorOrNil()
}

// isTemplated reports whether s contains any of the placeholder forms pkg/template
// substitutes ({name}, ${name}, $name), meaning its final value isn't known until
// it's rendered against a task's module_vars.
func isTemplated(s string) bool {
	return strings.Contains(s, "{") || strings.Contains(s, "$")
}

// CopyTasks returns a deep copy of a play's tasks, safe for per-run mutation (e.g.
// templating module_vars) without side effects on the loaded PlayBook.
func CopyTasks(tasks []Task) []Task {
	cp := deepcopy.Copy(tasks)
	res, ok := cp.([]Task)
	if !ok {
		return tasks
	}
	return res
}
