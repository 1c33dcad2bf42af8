// Package stats implements the per-run accounting ledger for the playbook
// orchestrator: ok/changed/failure/dark/skipped counters per host, plus the
// failures/dark membership sets the orchestrator consults to exclude hosts
// from subsequent task dispatches.
package stats

import "sync"

// HostResult is the subset of a module result the ledger cares about.
// Runner result records carry more fields (rc, msg, ansible_facts, ...);
// everything else is opaque to the ledger.
type HostResult struct {
	Changed bool
	Failed  bool
	Skipped bool
}

// Results is the shape returned by the Runner: per-host results for hosts that
// were reached, and per-host unreachable reasons for hosts that were not.
type Results struct {
	Contacted map[string]HostResult
	Dark      map[string]string // host -> reason
}

// Counters holds the raw per-host tallies.
type Counters struct {
	OK      int
	Changed int
	Failed  int
	Dark    int
	Skipped int
}

// Summary is the final per-host report returned by Orchestrator.Run.
type Summary struct {
	OK      int
	Changed int
	Failed  int
	Dark    int
	Skipped int
}

// Ledger accumulates per-host counters across a whole playbook run and tracks
// which hosts have transitioned to failed or dark, so the orchestrator can
// exclude them from later task dispatches. Safe for concurrent Compute calls,
// though the orchestrator itself only ever calls Compute between tasks.
type Ledger struct {
	mu        sync.Mutex
	counters  map[string]*Counters
	failures  map[string]struct{}
	dark      map[string]struct{}
	processed map[string]struct{}
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		counters:  map[string]*Counters{},
		failures:  map[string]struct{}{},
		dark:      map[string]struct{}{},
		processed: map[string]struct{}{},
	}
}

// Compute folds a Runner result set into the ledger. When setup is true (the
// result came from the fact-gathering setup step) a contacted host is never
// counted as ok or changed, matching the setup-phase fold rule, but
// failures and dark hosts are still recorded and still exclude the host from
// later dispatches.
func (l *Ledger) Compute(res Results, setup bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for host, hr := range res.Contacted {
		l.processed[host] = struct{}{}
		c := l.counterFor(host)
		switch {
		case hr.Failed:
			c.Failed++
			l.failures[host] = struct{}{}
		case hr.Skipped:
			c.Skipped++
		case setup:
			// setup counts neither ok nor changed
		case hr.Changed:
			c.Changed++
		default:
			c.OK++
		}
	}

	for host := range res.Dark {
		l.processed[host] = struct{}{}
		c := l.counterFor(host)
		c.Dark++
		l.dark[host] = struct{}{}
	}
}

func (l *Ledger) counterFor(host string) *Counters {
	c, ok := l.counters[host]
	if !ok {
		c = &Counters{}
		l.counters[host] = c
	}
	return c
}

// Summarize returns the accumulated counters for a host as a Summary.
func (l *Ledger) Summarize(host string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[host]
	if !ok {
		return Summary{}
	}
	return Summary{OK: c.OK, Changed: c.Changed, Failed: c.Failed, Dark: c.Dark, Skipped: c.Skipped}
}

// Processed returns every host that has appeared in at least one task result
// so far, in no particular order.
func (l *Ledger) Processed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]string, 0, len(l.processed))
	for h := range l.processed {
		res = append(res, h)
	}
	return res
}

// IsExcluded reports whether the host has transitioned to failed or dark and
// must not be dispatched to again in this run.
func (l *Ledger) IsExcluded(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, failed := l.failures[host]
	_, dark := l.dark[host]
	return failed || dark
}

// Failures returns a snapshot of the current failures set.
func (l *Ledger) Failures() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneSet(l.failures)
}

// Dark returns a snapshot of the current dark set.
func (l *Ledger) Dark() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneSet(l.dark)
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
