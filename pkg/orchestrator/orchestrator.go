// Package orchestrator implements the top-level playbook run loop: walking plays in
// order, running each play's setup step, tasks and handlers, and folding every result
// into the shared Stats ledger, fact cache and inventory restriction stack.
// Play/task/handler sequencing with a setup step, notify/handler dispatch and a
// per-host fact cache; the control flow generalizes a plain per-host task runner into
// this full play/handler lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/umputun/fleetplay/pkg/callback"
	"github.com/umputun/fleetplay/pkg/config"
	"github.com/umputun/fleetplay/pkg/factcache"
	"github.com/umputun/fleetplay/pkg/inventory"
	"github.com/umputun/fleetplay/pkg/poller"
	"github.com/umputun/fleetplay/pkg/runner"
	"github.com/umputun/fleetplay/pkg/stats"
	"github.com/umputun/fleetplay/pkg/template"
)

// ConnectionDefaults carries the orchestrator-level connection settings a play can
// override: remote_user/remote_port/transport/sudo/
// sudo_user construction-time options.
type ConnectionDefaults struct {
	RemoteUser string
	RemotePort int
	Transport  string
	Sudo       bool
	SudoUser   string
}

// Config is the orchestrator's construction-time parameter set.
type Config struct {
	Forks      int
	Timeout    time.Duration
	BaseDir    string
	ExtraVars  map[string]any // highest-precedence override variables
	Connection ConnectionDefaults
	Connector  runner.Connector
	Callbacks  callback.PlaybookCallbacks
	RunnerCB   callback.RunnerCallbacks
}

// Orchestrator runs a whole playbook against an inventory.
type Orchestrator struct {
	playbook  *config.PlayBook
	inv       *inventory.Inventory
	cfg       Config
	stats     *stats.Ledger
	cache     *factcache.Cache
}

// New builds an Orchestrator for one playbook run.
func New(pb *config.PlayBook, inv *inventory.Inventory, cfg Config) *Orchestrator {
	if cfg.Forks <= 0 {
		cfg.Forks = 1
	}
	return &Orchestrator{
		playbook: pb,
		inv:      inv,
		cfg:      cfg,
		stats:    stats.New(),
		cache:    factcache.New(),
	}
}

// Run executes every play in order and returns a per-host summary. Individual host
// failures never abort the run; only configuration errors (an undefined handler
// reference) do.
func (o *Orchestrator) Run(ctx context.Context) (map[string]stats.Summary, error) {
	o.cfg.Callbacks.OnStart()

	for i := range o.playbook.Plays {
		play := &o.playbook.Plays[i]
		if err := o.runPlay(ctx, play); err != nil {
			return nil, fmt.Errorf("play %q: %w", play.Name, err)
		}
	}

	res := map[string]stats.Summary{}
	for _, host := range o.stats.Processed() {
		res[host] = o.stats.Summarize(host)
	}
	return res, nil
}

// runPlay runs one play: fact cache reset, primary (and optional secondary) setup
// step, then every task, then every handler whose notified_by set is non-empty.
func (o *Orchestrator) runPlay(ctx context.Context, play *config.Play) error {
	o.cache.Reset()
	o.cfg.Callbacks.OnPlayStart(play.Name)

	o.cfg.Callbacks.OnSetupPrimary()
	if err := o.doSetupStep(ctx, play, nil); err != nil {
		return err
	}

	if len(play.VarsFiles) > 0 {
		o.cfg.Callbacks.OnSetupSecondary()
		if err := o.doSetupStep(ctx, play, play.VarsFiles); err != nil {
			return err
		}
	}

	for i := range play.Tasks {
		if err := o.runTask(ctx, play, &play.Tasks[i], false); err != nil {
			return err
		}
	}

	for i := range play.Handlers {
		h := &play.Handlers[i]
		if len(h.NotifiedBy) == 0 {
			continue
		}
		hosts := make([]string, 0, len(h.NotifiedBy))
		for host := range h.NotifiedBy {
			hosts = append(hosts, host)
		}
		o.inv.RestrictTo(hosts)
		task := h.AsTask()
		err := o.runTask(ctx, play, &task, true)
		o.inv.LiftRestriction()
		if err != nil {
			return err
		}
		h.NotifiedBy = map[string]struct{}{}
	}

	return nil
}

// workingSet computes pattern_match(play.hosts) ∩ current_inventory_listing minus the
// hosts that have already transitioned to failed or dark; both setup and dispatch
// share this one host-set formula.
func (o *Orchestrator) workingSet(pattern string) ([]inventory.Host, error) {
	hosts, err := o.inv.ListHosts(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Host, 0, len(hosts))
	for _, h := range hosts {
		if o.stats.IsExcluded(h.Name) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// doSetupStep pushes variables to, and pulls facts back from, every host currently
// eligible for play.hosts via the Runner's "setup" module. vars_files non-nil means
// this is the secondary pass: each path is templated against the facts the primary
// pass just gathered and loaded locally, merging its contents into the cache per
// host group rather than replacing the primary pass's facts wholesale.
func (o *Orchestrator) doSetupStep(ctx context.Context, play *config.Play, varsFiles []string) error {
	working, err := o.workingSet(play.Hosts)
	if err != nil {
		return err
	}
	names := hostNames(working)
	o.inv.RestrictTo(names)
	defer o.inv.LiftRestriction()

	if len(varsFiles) == 0 {
		r := runner.New(runner.Config{
			Hosts:      toRunnerHosts(working, play, o.cfg.Connection),
			ModuleName: "setup",
			ModuleVars: o.allVars(play),
			Forks:      o.cfg.Forks,
			Timeout:    o.cfg.Timeout,
			SetupCache: o.cache.Snapshot(),
			Connector:  o.cfg.Connector,
			Transport:  playTransport(play, o.cfg.Connection),
			Secrets:    o.playbook.AllSecretValues(),
			Sudo:       playSudo(play, o.cfg.Connection),
			SudoUser:   playSudoUser(play, o.cfg.Connection),
		})
		results := r.Run(ctx)
		o.stats.Compute(toStatsResults(results), true)
		for host, hr := range results.Contacted {
			if hr.Facts != nil {
				o.cache.Replace(host, hr.Facts)
			}
		}
		return nil
	}

	for _, h := range working {
		facts := o.cache.HostVars(h.Name)
		for _, f := range varsFiles {
			path := template.Template(f, facts)
			vars, err := loadVarsFile(o.cfg.BaseDir, path)
			if err != nil {
				continue // a missing per-group vars file is not a configuration error
			}
			o.cache.Merge(h.Name, vars)
		}
	}
	return nil
}

// runTask runs a single task (or, when isHandler, a handler converted to a task) to
// completion: dispatch, fact merge, stats fold, notify handling.
func (o *Orchestrator) runTask(ctx context.Context, play *config.Play, task *config.Task, isHandler bool) error {
	o.cfg.Callbacks.OnTaskStart(task.Name, isHandler)

	results, err := o.runTaskInternal(ctx, play, task)
	if err != nil {
		return err
	}

	for host, hr := range results.Contacted {
		if hr.Facts != nil {
			o.cache.Merge(host, hr.Facts)
		}
	}

	o.stats.Compute(toStatsResults(results), false)

	if len(task.Notify) > 0 {
		for host, hr := range results.Contacted {
			if !hr.Changed {
				continue
			}
			for _, name := range task.Notify {
				handlerName := template.Template(name, task.ModuleVars)
				if err := o.flagHandler(play, handlerName, host); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// runTaskInternal dispatches task to its working set, synchronously or via the
// async Runner/Poller handoff.
func (o *Orchestrator) runTaskInternal(ctx context.Context, play *config.Play, task *config.Task) (runner.Results, error) {
	working, err := o.workingSet(play.Hosts)
	if err != nil {
		return runner.Results{}, err
	}
	names := hostNames(working)
	o.inv.RestrictTo(names)
	defer o.inv.LiftRestriction()

	rnr := runner.New(runner.Config{
		Hosts:      toRunnerHosts(working, play, o.cfg.Connection),
		ModuleName: task.ModuleName,
		ModuleArgs: task.ModuleArgs,
		ModuleVars: task.ModuleVars,
		OnlyIf:     task.OnlyIf,
		Forks:      o.cfg.Forks,
		Timeout:    o.cfg.Timeout,
		SetupCache: o.cache.Snapshot(),
		Connector:  o.cfg.Connector,
		Transport:  playTransport(play, o.cfg.Connection),
		Secrets:    o.playbook.AllSecretValues(),
		Sudo:       playSudo(play, o.cfg.Connection),
		SudoUser:   playSudoUser(play, o.cfg.Connection),
	})

	if task.AsyncSeconds == 0 {
		return rnr.Run(ctx), nil
	}

	initial, handle, err := rnr.RunAsync(ctx, task.AsyncSeconds)
	if err != nil {
		return runner.Results{}, err
	}
	if task.AsyncPollInterval <= 0 {
		// fire-and-forget: no poll, no final fold; runTask folds these initial results once
		return initial, nil
	}
	o.stats.Compute(toStatsResults(initial), false)

	p := poller.New(handle)
	final := p.Wait(ctx, task.AsyncSeconds, task.AsyncPollInterval)
	for host, hr := range final.Contacted {
		if hr.Failed && hr.Msg == "timed out" {
			o.cfg.RunnerCB.OnFailed(host, hr.Msg)
		}
	}
	return final, nil
}

// flagHandler records host against the named handler's notified_by set so the later
// handler pass knows which hosts to run it on. An undefined handler name is a
// configuration error that aborts the run.
func (o *Orchestrator) flagHandler(play *config.Play, handlerName, host string) error {
	for i := range play.Handlers {
		h := &play.Handlers[i]
		if h.Name != handlerName {
			continue
		}
		o.cfg.Callbacks.OnNotify(host, handlerName)
		if h.NotifiedBy == nil {
			h.NotifiedBy = map[string]struct{}{}
		}
		h.NotifiedBy[host] = struct{}{}
		return nil
	}
	return fmt.Errorf("change handler (%s) is not defined", handlerName)
}

// playSudo reports whether sudo escalation applies, the play's own setting taking
// precedence over the orchestrator-level default.
func playSudo(play *config.Play, def ConnectionDefaults) bool {
	if play.Sudo {
		return true
	}
	return def.Sudo
}

// playSudoUser returns the sudo target user, the play's own setting taking
// precedence over the orchestrator-level default.
func playSudoUser(play *config.Play, def ConnectionDefaults) string {
	if play.SudoUser != "" {
		return play.SudoUser
	}
	return def.SudoUser
}

// playTransport returns the connection kind for play, the play's own setting taking
// precedence over the orchestrator-level default. "local" runs every module on this
// machine instead of dialing out over SSH.
func playTransport(play *config.Play, def ConnectionDefaults) string {
	if play.Transport != "" {
		return play.Transport
	}
	return def.Transport
}

func hostNames(hosts []inventory.Host) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Name
	}
	return out
}

// toRunnerHosts projects inventory hosts into the runner's minimal connection-info
// shape, applying the play's connection overrides over the orchestrator defaults.
func toRunnerHosts(hosts []inventory.Host, play *config.Play, def ConnectionDefaults) []runner.Host {
	user := def.RemoteUser
	if play.RemoteUser != "" {
		user = play.RemoteUser
	}
	port := def.RemotePort
	if play.RemotePort != 0 {
		port = play.RemotePort
	}

	out := make([]runner.Host, len(hosts))
	for i, h := range hosts {
		hostUser := user
		if h.User != "" {
			hostUser = h.User
		}
		hostPort := port
		if h.Port != 0 {
			hostPort = h.Port
		}
		out[i] = runner.Host{Name: h.Name, Addr: h.Addr, Port: hostPort, User: hostUser}
	}
	return out
}

// allVars merges the inventory's "all" group vars (skipped for a script inventory), then
// the play's own vars, then extra_vars (highest precedence): the template input for the
// primary setup step's module_args.
func (o *Orchestrator) allVars(play *config.Play) map[string]any {
	merged := map[string]any{}
	if !o.inv.IsScript() {
		for k, v := range o.inv.GroupVariables("all") {
			merged[k] = v
		}
	}
	for k, v := range play.Vars {
		merged[k] = v
	}
	for k, v := range o.cfg.ExtraVars {
		merged[k] = v
	}
	return merged
}

// toStatsResults narrows a Runner result set down to the fields the Stats ledger
// consumes, the Go equivalent of stats.compute(results) reading only changed/failed/
// skipped off of an otherwise richer result record.
func toStatsResults(res runner.Results) stats.Results {
	out := stats.Results{Contacted: make(map[string]stats.HostResult, len(res.Contacted)), Dark: res.Dark}
	for host, r := range res.Contacted {
		out.Contacted[host] = stats.HostResult{Changed: r.Changed, Failed: r.Failed, Skipped: r.Skipped}
	}
	return out
}
