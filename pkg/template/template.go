// Package template implements the placeholder substitution used to expand task fields,
// handler names, and vars_files paths against host facts and task variables before they
// reach a module or the orchestrator's own bookkeeping.
// Variables are an arbitrary map[string]any rather than a fixed set of named
// placeholders, so any host fact or module var can be referenced by key.
package template

import (
	"fmt"
	"sort"
	"strings"
)

// Template replaces every occurrence of {name}, ${name}, and $name in text with the
// string form of vars[name], for every key present in vars. Keys are applied longest
// name first so "host" doesn't shadow a "hostname" placeholder, and replacement is
// single-pass per key (the substituted value is never rescanned for further
// placeholders). Missing keys are left untouched.
func Template(text string, vars map[string]any) string {
	if len(vars) == 0 {
		return text
	}

	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	res := text
	for _, name := range names {
		val := stringify(vars[name])
		res = strings.ReplaceAll(res, fmt.Sprintf("${%s}", name), val)
		res = strings.ReplaceAll(res, fmt.Sprintf("{%s}", name), val)
		res = strings.ReplaceAll(res, fmt.Sprintf("$%s", name), val)
	}
	return res
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
