// Package inventory implements the orchestrator's host inventory view: group/tag/name
// matching against a pattern string, group variables, and the LIFO restriction stack the
// orchestrator pushes before every setup step and task dispatch.
// Host patterns resolve against the raw group/tag/hostname strings a play's hosts
// field carries directly.
package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-pkgz/stringutils"
)

const allGroup = "all"

// Host is one inventory entry: connection coordinates plus group/tag membership.
type Host struct {
	Name  string // inventory name, defaults to Addr
	Addr  string
	Port  int
	User  string
	Tags  []string
	Group string // the [group] section the host was declared under, "" if none
}

// Inventory is the orchestrator's view of the fleet: every known host, its group/tag
// membership, per-group variables, and a LIFO stack of active restrictions.
type Inventory struct {
	mu           sync.Mutex
	hosts        []Host              // declaration order, deduplicated by Name
	groups       map[string][]string // group -> host names, including the synthetic "all" group
	groupVars    map[string]map[string]any
	restrictions [][]string // stack of allowed-name sets; empty stack = unrestricted
	isScript     bool
}

// New builds an empty Inventory; hosts are added with AddHost or loaded via LoadAnsibleINI.
func New() *Inventory {
	return &Inventory{
		groups:    map[string][]string{allGroup: {}},
		groupVars: map[string]map[string]any{},
	}
}

// AddHost registers a host, appending it to the "all" group and to its declared group, if any.
// Calling AddHost twice with the same Name replaces the earlier entry.
func (inv *Inventory) AddHost(h Host) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if h.Name == "" {
		h.Name = h.Addr
	}
	if h.Port == 0 {
		h.Port = 22
	}

	for i, existing := range inv.hosts {
		if existing.Name == h.Name {
			inv.hosts[i] = h
			return
		}
	}

	inv.hosts = append(inv.hosts, h)
	inv.groups[allGroup] = appendUnique(inv.groups[allGroup], h.Name)
	if h.Group != "" {
		inv.groups[h.Group] = appendUnique(inv.groups[h.Group], h.Name)
	}
}

// SetGroupVars records the variables loaded for a group (e.g. from a group_vars file).
func (inv *Inventory) SetGroupVars(group string, vars map[string]any) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.groupVars[group] = vars
}

// SetScript marks the inventory as sourced from a dynamic inventory script rather than a
// static file; the orchestrator consults this to decide whether to load global_vars from
// the "all" group at construction time.
func (inv *Inventory) SetScript(v bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.isScript = v
}

// IsScript reports whether the inventory came from a dynamic script.
func (inv *Inventory) IsScript() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.isScript
}

// GroupVariables returns the recorded variables for a group, or an empty map if none were set.
func (inv *Inventory) GroupVariables(group string) map[string]any {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	vars, ok := inv.groupVars[group]
	if !ok {
		return map[string]any{}
	}
	cp := make(map[string]any, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return cp
}

// ListHosts resolves a play's host pattern into the matching Hosts, honoring any active
// restriction (the intersection of the pattern match and the top of the restriction stack).
// pattern is a comma-separated list of tokens, each resolved in order as: a group name, a
// tag, a host name, a bare "user@host:port" spec, or (if the inventory has no such group/
// tag/name) treated as a literal host address. "all" matches every known host.
func (inv *Inventory) ListHosts(pattern string) ([]Host, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	names, err := inv.matchPattern(pattern)
	if err != nil {
		return nil, err
	}

	if len(inv.restrictions) > 0 {
		allowed := inv.restrictions[len(inv.restrictions)-1]
		names = stringutils.Intersection(names, allowed)
	}

	res := make([]Host, 0, len(names))
	for _, n := range names {
		if h, ok := inv.hostByName(n); ok {
			res = append(res, h)
		}
	}
	return res, nil
}

// RestrictTo pushes a new restriction onto the stack: subsequent ListHosts calls are
// limited to hostNames until the matching LiftRestriction. Pushes nest strictly (LIFO).
func (inv *Inventory) RestrictTo(hostNames []string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	cp := make([]string, len(hostNames))
	copy(cp, hostNames)
	inv.restrictions = append(inv.restrictions, cp)
}

// LiftRestriction pops the most recent restriction. A no-op on an empty stack.
func (inv *Inventory) LiftRestriction() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if len(inv.restrictions) == 0 {
		return
	}
	inv.restrictions = inv.restrictions[:len(inv.restrictions)-1]
}

func (inv *Inventory) hostByName(name string) (Host, bool) {
	for _, h := range inv.hosts {
		if strings.EqualFold(h.Name, name) {
			return h, true
		}
	}
	return Host{}, false
}

// matchPattern resolves one pattern string (comma-separated tokens) against groups, tags,
// names and literal host specs, in that order, mirroring targetService.destinations.
func (inv *Inventory) matchPattern(pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty host pattern")
	}

	var out []string
	for _, tok := range strings.Split(pattern, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		if tok == allGroup {
			out = append(out, inv.groups[allGroup]...)
			continue
		}

		if members, ok := inv.groups[tok]; ok {
			out = append(out, members...)
			continue
		}

		if names := inv.hostsByTag(tok); len(names) > 0 {
			out = append(out, names...)
			continue
		}

		if h, ok := inv.hostByName(tok); ok {
			out = append(out, h.Name)
			continue
		}

		// not found anywhere in the inventory: parse as a literal host spec and add it
		// as an ad-hoc, unnamed host so targets outside the inventory still resolve.
		h, err := parseHostSpec(tok)
		if err != nil {
			return nil, err
		}
		inv.addAdHocLocked(h)
		out = append(out, h.Name)
	}

	return stringutils.DeDup(out), nil
}

func (inv *Inventory) hostsByTag(tag string) []string {
	var out []string
	for _, h := range inv.hosts {
		for _, t := range h.Tags {
			if strings.EqualFold(t, tag) {
				out = append(out, h.Name)
				break
			}
		}
	}
	return out
}

// addAdHocLocked adds a host discovered only via a literal pattern token; caller holds inv.mu.
func (inv *Inventory) addAdHocLocked(h Host) {
	for _, existing := range inv.hosts {
		if existing.Name == h.Name {
			return
		}
	}
	inv.hosts = append(inv.hosts, h)
	inv.groups[allGroup] = appendUnique(inv.groups[allGroup], h.Name)
}

// parseHostSpec parses "[user@]host[:port]" into a Host, defaulting port to 22.
func parseHostSpec(spec string) (Host, error) {
	user := ""
	rest := spec
	if idx := strings.Index(spec, "@"); idx >= 0 {
		user = spec[:idx]
		rest = spec[idx+1:]
	}

	host := rest
	port := 22
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host = rest[:idx]
		p, err := strconv.Atoi(rest[idx+1:])
		if err != nil {
			return Host{}, fmt.Errorf("can't parse port in host spec %q: %w", spec, err)
		}
		port = p
	}

	return Host{Name: spec, Addr: host, Port: port, User: user}, nil
}

func appendUnique(list []string, v string) []string {
	if stringutils.Contains(v, list) {
		return list
	}
	return append(list, v)
}
