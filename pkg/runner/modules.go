package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/umputun/fleetplay/pkg/executor"
	"github.com/umputun/fleetplay/pkg/template"
)

// moduleRequest bundles everything a module needs to run against one host.
type moduleRequest struct {
	name     string
	args     string
	vars     map[string]any
	facts    map[string]any
	host     Host
	verbose  bool
	sudo     bool
	sudoUser string
}

// sudoWrap prefixes cmd with "sudo sh -c" for scripted commands; sudoUser selects
// "sudo -u user" when set. Only command/shell and delete honor sudo - copy/sync's sudo
// variant would need a temp-dir-then-move dance for file transfers that this module
// surface doesn't implement.
func (r moduleRequest) sudoWrap(cmd string) string {
	if !r.sudo {
		return cmd
	}
	if r.sudoUser != "" {
		return fmt.Sprintf("sudo -u %s sh -c %s", r.sudoUser, shellQuote(cmd))
	}
	return fmt.Sprintf("sudo sh -c %s", shellQuote(cmd))
}

// templateVars merges the module's own vars with the facts already gathered for the
// host, the facts taking precedence so ansible_* names always resolve to the gathered
// value rather than a stale play var of the same name.
func (r moduleRequest) templateVars() map[string]any {
	merged := map[string]any{}
	for k, v := range r.vars {
		merged[k] = v
	}
	for k, v := range r.facts {
		merged[k] = v
	}
	merged["host"] = r.host.Name
	merged["inventory_hostname"] = r.host.Name
	return merged
}

func (r moduleRequest) templatedArgs() string {
	return template.Template(r.args, r.templateVars())
}

// dispatchModule runs the named module against remote, the single switchboard every
// module_name in a task or handler goes through.
func dispatchModule(ctx context.Context, remote executor.Interface, req moduleRequest) (Result, error) {
	switch req.name {
	case "setup":
		return moduleSetup(ctx, remote, req)
	case "command", "shell":
		return moduleCommand(ctx, remote, req)
	case "copy":
		return moduleCopy(ctx, remote, req)
	case "sync":
		return moduleSync(ctx, remote, req)
	case "delete":
		return moduleDelete(ctx, remote, req)
	case "wait":
		return moduleWait(ctx, remote, req)
	default:
		return Result{}, fmt.Errorf("unknown module %q", req.name)
	}
}

// buildModuleCommand renders the shell command a "command"/"shell" module would execute,
// used by RunAsync to background the same command it would otherwise run synchronously.
// Only command/shell modules may run async; every other module is always synchronous.
func buildModuleCommand(name, args string) (string, error) {
	if name != "command" && name != "shell" {
		return "", fmt.Errorf("module %q does not support async execution", name)
	}
	return args, nil
}

func moduleCommand(ctx context.Context, remote executor.Interface, req moduleRequest) (Result, error) {
	cmd := req.sudoWrap(req.templatedArgs())
	out, err := remote.Run(ctx, cmd, &executor.RunOpts{Verbose: req.verbose})
	if err != nil {
		rc := 1
		return Result{Failed: true, RC: &rc, Msg: err.Error()}, nil
	}
	rc := 0
	return Result{Changed: true, RC: &rc, Msg: strings.Join(out, "\n")}, nil
}

// moduleSetup gathers a small set of host facts by probing the remote shell. This is
// a deliberately small subset covering the facts other modules' only_if and templated
// args are likely to reference.
func moduleSetup(ctx context.Context, remote executor.Interface, req moduleRequest) (Result, error) {
	facts := map[string]any{}

	if out, err := remote.Run(ctx, "uname -s", &executor.RunOpts{}); err == nil && len(out) > 0 {
		facts["ansible_system"] = strings.TrimSpace(out[0])
	}
	if out, err := remote.Run(ctx, "uname -r", &executor.RunOpts{}); err == nil && len(out) > 0 {
		facts["ansible_kernel"] = strings.TrimSpace(out[0])
	}
	if out, err := remote.Run(ctx, "hostname", &executor.RunOpts{}); err == nil && len(out) > 0 {
		facts["ansible_hostname"] = strings.TrimSpace(out[0])
	}
	if out, err := remote.Run(ctx, "id -u", &executor.RunOpts{}); err == nil && len(out) > 0 {
		if uid, convErr := strconv.Atoi(strings.TrimSpace(out[0])); convErr == nil {
			facts["ansible_user_id"] = uid
		}
	}
	if out, err := remote.Run(ctx, "cat /etc/os-release", &executor.RunOpts{}); err == nil {
		for _, line := range out {
			if id, ok := strings.CutPrefix(line, "ID="); ok {
				facts["ansible_os_family"] = strings.Trim(id, `"`)
			}
		}
	}

	return Result{Changed: false, Facts: facts}, nil
}

func moduleCopy(ctx context.Context, remote executor.Interface, req moduleRequest) (Result, error) {
	src, dst, ok := splitSrcDst(req.templatedArgs())
	if !ok {
		return Result{}, fmt.Errorf("copy module requires \"src=... dst=...\" args")
	}
	if err := remote.Upload(ctx, src, dst, &executor.UpDownOpts{Mkdir: true}); err != nil {
		rc := 1
		return Result{Failed: true, RC: &rc, Msg: err.Error()}, nil
	}
	rc := 0
	return Result{Changed: true, RC: &rc, Msg: fmt.Sprintf("copied %s to %s", src, dst)}, nil
}

func moduleSync(ctx context.Context, remote executor.Interface, req moduleRequest) (Result, error) {
	src, dst, ok := splitSrcDst(req.templatedArgs())
	if !ok {
		return Result{}, fmt.Errorf("sync module requires \"src=... dst=...\" args")
	}
	changed, err := remote.Sync(ctx, src, dst, &executor.SyncOpts{Delete: true})
	if err != nil {
		rc := 1
		return Result{Failed: true, RC: &rc, Msg: err.Error()}, nil
	}
	rc := 0
	return Result{Changed: len(changed) > 0, RC: &rc, Msg: fmt.Sprintf("synced %d file(s)", len(changed))}, nil
}

func moduleDelete(ctx context.Context, remote executor.Interface, req moduleRequest) (Result, error) {
	target := strings.TrimSpace(req.templatedArgs())
	if req.sudo {
		cmd := req.sudoWrap(fmt.Sprintf("rm -rf %s", target))
		if _, err := remote.Run(ctx, cmd, &executor.RunOpts{Verbose: req.verbose}); err != nil {
			rc := 1
			return Result{Failed: true, RC: &rc, Msg: err.Error()}, nil
		}
		rc := 0
		return Result{Changed: true, RC: &rc, Msg: fmt.Sprintf("deleted %s", target)}, nil
	}
	if err := remote.Delete(ctx, target, &executor.DeleteOpts{Recursive: true}); err != nil {
		rc := 1
		return Result{Failed: true, RC: &rc, Msg: err.Error()}, nil
	}
	rc := 0
	return Result{Changed: true, RC: &rc, Msg: fmt.Sprintf("deleted %s", target)}, nil
}

// moduleWait runs a condition command on the remote host once; a non-zero exit fails
// the task. It does not retry and takes no timeout from module_args. Distinct from the
// async Runner/Poller job machinery.
func moduleWait(ctx context.Context, remote executor.Interface, req moduleRequest) (Result, error) {
	cond := req.templatedArgs()
	if cond == "" {
		cond = "true"
	}
	_, err := remote.Run(ctx, cond, &executor.RunOpts{Verbose: req.verbose})
	if err != nil {
		rc := 1
		return Result{Failed: true, RC: &rc, Msg: "condition not met: " + err.Error()}, nil
	}
	rc := 0
	return Result{Changed: false, RC: &rc, Msg: "condition met"}, nil
}

// splitSrcDst parses "src=<path> dst=<path>" module_args into its two fields.
func splitSrcDst(args string) (src, dst string, ok bool) {
	for _, field := range strings.Fields(args) {
		if v, found := strings.CutPrefix(field, "src="); found {
			src = v
		}
		if v, found := strings.CutPrefix(field, "dst="); found {
			dst = v
		}
	}
	return src, dst, src != "" && dst != ""
}

// shellQuote wraps s in single quotes for embedding in a remote sh -c invocation,
// escaping any single quotes already present in s.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
