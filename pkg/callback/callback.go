// Package callback defines the orchestrator's progress-reporting hooks and a default
// colorized implementation built on the same colorizer the executor package uses for
// per-host output.
package callback

import (
	"fmt"

	"github.com/umputun/fleetplay/pkg/executor"
)

// PlaybookCallbacks receives orchestrator-level progress notifications: the events
// fired directly by Orchestrator.Run as it walks plays, setup steps, tasks and notify
// handling, as distinct from per-host module output (which goes through the executor's
// own Logs).
type PlaybookCallbacks interface {
	OnStart()
	OnPlayStart(name string)
	OnSetupPrimary()
	OnSetupSecondary()
	OnTaskStart(name string, isHandler bool)
	OnNotify(host, handlerName string)
}

// RunnerCallbacks receives runner-level notifications. The orchestrator only ever
// fires OnFailed itself, to synthesize an async poll timeout into a reported failure.
type RunnerCallbacks interface {
	OnFailed(host, reason string)
}

// Colorized is the default PlaybookCallbacks/RunnerCallbacks implementation: it writes
// one colorized progress line per event through an executor.Logs, reusing the same
// per-host color assignment and secret masking every module's output goes through.
type Colorized struct {
	logs executor.Logs
}

// New builds a Colorized callback sink writing through logs.
func New(logs executor.Logs) *Colorized {
	return &Colorized{logs: logs}
}

// OnStart reports the beginning of a playbook run.
func (c *Colorized) OnStart() {
	c.logs.Info.Printf("[INFO] playbook started\n")
}

// OnPlayStart reports the beginning of a play.
func (c *Colorized) OnPlayStart(name string) {
	c.logs.Info.Printf("[INFO] play %q started\n", name)
}

// OnSetupPrimary reports the primary (fact-gathering) setup step of a play.
func (c *Colorized) OnSetupPrimary() {
	c.logs.Info.Printf("[INFO] gathering facts\n")
}

// OnSetupSecondary reports the secondary (vars_files) setup step of a play.
func (c *Colorized) OnSetupSecondary() {
	c.logs.Info.Printf("[INFO] loading vars_files\n")
}

// OnTaskStart reports the beginning of a task or handler.
func (c *Colorized) OnTaskStart(name string, isHandler bool) {
	kind := "task"
	if isHandler {
		kind = "handler"
	}
	c.logs.Info.Printf("[INFO] %s %q started\n", kind, name)
}

// OnNotify reports that host has flagged handlerName to run.
func (c *Colorized) OnNotify(host, handlerName string) {
	c.logs.WithHost(host, "").Info.Printf("[INFO] notified handler %q\n", handlerName)
}

// OnFailed reports a runner-level failure, used by the orchestrator to surface
// synthesized async-poll timeouts.
func (c *Colorized) OnFailed(host, reason string) {
	c.logs.WithHost(host, "").Info.Printf("[WARN] %s\n", fmt.Sprintf("failed: %s", reason))
}
