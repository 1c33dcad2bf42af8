// Package runner implements the bounded worker pool that fans a single module
// invocation out across a task's working set of hosts, synchronously or as a
// backgrounded async job polled later by pkg/poller. It runs one module against
// every host in a task's working set, rather than a list of commands per host.
package runner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-pkgz/syncs"
	"github.com/google/uuid"

	"github.com/umputun/fleetplay/pkg/executor"
)

// Connector connects to a host and returns a Remote executor for it.
type Connector interface {
	Connect(ctx context.Context, hostAddr, hostName, user string) (*executor.Remote, error)
}

// Result is one host's module result.
type Result struct {
	Changed bool
	Failed  bool
	Skipped bool // only_if evaluated false; distinct from Failed
	RC      *int
	Msg     string
	Facts   map[string]any // ansible_facts, only set by the setup module
}

// Results is what Run/RunAsync return: per-host results for hosts that were reached,
// and per-host unreachable reasons for "dark" hosts that could not be reached at all.
type Results struct {
	Contacted map[string]Result
	Dark      map[string]string
}

func newResults() Results {
	return Results{Contacted: map[string]Result{}, Dark: map[string]string{}}
}

// Host is the minimal per-host connection info the Runner needs; inventory.Host
// satisfies this shape but the Runner doesn't import pkg/inventory to avoid a
// dependency cycle with the orchestrator wiring both packages together.
type Host struct {
	Name string
	Addr string
	Port int
	User string
}

// Config is the construction-time parameter set for one task dispatch.
type Config struct {
	Hosts      []Host
	ModuleName string
	ModuleArgs string
	ModuleVars map[string]any
	OnlyIf     string
	Forks      int
	Timeout    time.Duration
	SetupCache map[string]map[string]any // read-only per-task snapshot, host -> facts
	Connector  Connector
	Transport  string // "local" bypasses Connector/SSH entirely and runs modules on this machine
	Secrets    []string // masked out of local transport's own output; SSH transport masks via its Logs
	Verbose    bool
	Sudo       bool
	SudoUser   string
}

// Runner fans a module invocation out across Config.Hosts with a bounded pool of
// Config.Forks workers, via syncs.NewErrSizedGroup.
type Runner struct {
	cfg Config
}

// New builds a Runner for one task dispatch.
func New(cfg Config) *Runner {
	if cfg.Forks <= 0 {
		cfg.Forks = 1
	}
	return &Runner{cfg: cfg}
}

// Run dispatches the module synchronously to every configured host and blocks until
// every worker has reported.
func (r *Runner) Run(ctx context.Context) Results {
	res := newResults()
	var mu sync.Mutex
	wg := syncs.NewErrSizedGroup(r.cfg.Forks, syncs.Context(ctx))
	for _, h := range r.cfg.Hosts {
		h := h
		wg.Go(func() error {
			result, dark := r.runOnHost(ctx, h)
			mu.Lock()
			defer mu.Unlock()
			if dark != "" {
				res.Dark[h.Name] = dark
				return nil
			}
			res.Contacted[h.Name] = result
			return nil
		})
	}
	_ = wg.Wait() // per-host errors are folded into Results, not surfaced here
	return res
}

// RunAsync launches the module in the background on every host and returns the
// initial dispatch results (connection failures surface immediately as dark hosts)
// plus an AsyncHandle that a poller.Poller can Wait on for final completion.
func (r *Runner) RunAsync(ctx context.Context, jobSeconds int) (Results, *AsyncHandle, error) {
	initial := newResults()
	handle := &AsyncHandle{jobID: uuid.NewString(), jobSeconds: jobSeconds, runner: r}

	var mu sync.Mutex
	wg := syncs.NewErrSizedGroup(r.cfg.Forks, syncs.Context(ctx))
	for _, h := range r.cfg.Hosts {
		h := h
		wg.Go(func() error {
			remote, err := r.connect(ctx, h)
			if err != nil {
				mu.Lock()
				initial.Dark[h.Name] = err.Error()
				mu.Unlock()
				return nil
			}
			defer remote.Close() //nolint

			cmd, err := buildModuleCommand(r.cfg.ModuleName, r.cfg.ModuleArgs)
			if err != nil {
				mu.Lock()
				initial.Dark[h.Name] = err.Error()
				mu.Unlock()
				return nil
			}

			launch := asyncWrapper(handle.jobID, cmd)
			if _, err := remote.Run(ctx, launch, &executor.RunOpts{Verbose: r.cfg.Verbose}); err != nil {
				mu.Lock()
				initial.Dark[h.Name] = err.Error()
				mu.Unlock()
				return nil
			}

			mu.Lock()
			initial.Contacted[h.Name] = Result{Msg: "started"}
			handle.hosts = append(handle.hosts, h)
			mu.Unlock()
			return nil
		})
	}
	_ = wg.Wait()

	return initial, handle, nil
}

// asyncWrapper backgrounds cmd on the remote host, recording its exit code to a
// status file under tmpRemoteDir named after jobID, the same "status file" technique
// the Poller later reads.
func asyncWrapper(jobID, cmd string) string {
	outFile := fmt.Sprintf("%s/%s.out", tmpRemoteDir, jobID)
	statusFile := fmt.Sprintf("%s/%s.status", tmpRemoteDir, jobID)
	inner := fmt.Sprintf("%s >%s 2>&1; echo $? >%s", cmd, outFile, statusFile)
	return fmt.Sprintf("mkdir -p %s && nohup sh -c %s >/dev/null 2>&1 & disown", tmpRemoteDir, shellQuote(inner))
}

const tmpRemoteDir = "/tmp/.fleetplay"

// runOnHost connects to h, dispatches the configured module, and returns either a
// Result (host was reached) or a dark reason (host was not).
func (r *Runner) runOnHost(ctx context.Context, h Host) (Result, string) {
	remote, err := r.connect(ctx, h)
	if err != nil {
		return Result{}, err.Error()
	}
	defer remote.Close() //nolint

	if r.cfg.OnlyIf != "" {
		skip, err := evaluateOnlyIf(ctx, remote, r.cfg.OnlyIf, r.cfg.Verbose)
		if err != nil {
			log.Printf("[WARN] can't evaluate only_if on %s: %v", h.Name, err)
		}
		if skip {
			return Result{Skipped: true, Msg: "skipped (only_if false)"}, ""
		}
	}

	facts := r.cfg.SetupCache[h.Name]
	result, err := dispatchModule(ctx, remote, moduleRequest{
		name:     r.cfg.ModuleName,
		args:     r.cfg.ModuleArgs,
		vars:     r.cfg.ModuleVars,
		facts:    facts,
		host:     h,
		verbose:  r.cfg.Verbose,
		sudo:     r.cfg.Sudo,
		sudoUser: r.cfg.SudoUser,
	})
	if err != nil {
		rc := 1
		return Result{Failed: true, RC: &rc, Msg: err.Error()}, ""
	}
	return result, ""
}

// connect returns the module executor for h: cfg.Transport == "local" runs every
// module on this machine via executor.Local, bypassing cfg.Connector and SSH
// entirely; any other transport dials h through cfg.Connector as usual.
func (r *Runner) connect(ctx context.Context, h Host) (executor.Interface, error) {
	if r.cfg.Transport == "local" {
		local := &executor.Local{}
		local.SetSecrets(r.cfg.Secrets)
		return local, nil
	}
	return r.cfg.Connector.Connect(ctx, fmt.Sprintf("%s:%d", h.Addr, h.Port), h.Name, h.User)
}

// evaluateOnlyIf runs the templated only_if expression as a shell condition; a
// non-zero exit means the host is skipped. Open question resolved: only_if is a
// shell-evaluable expression, consistent with the module_args the Runner otherwise
// hands to "command"/"shell".
func evaluateOnlyIf(ctx context.Context, remote executor.Interface, expr string, verbose bool) (skip bool, err error) {
	_, err = remote.Run(ctx, fmt.Sprintf("sh -c %q", expr), &executor.RunOpts{Verbose: verbose})
	if err != nil {
		return true, nil //nolint:nilerr // non-zero exit means skip, not an error to propagate
	}
	return false, nil
}
