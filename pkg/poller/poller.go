// Package poller waits for a Runner's backgrounded async job to finish on every
// host it was launched on, folding any host still outstanding when the job's time
// budget runs out into a synthesized timeout failure.
// Timed-out hosts are marked {failed: 1, rc: nil, msg: "timed out"} rather than left
// outstanding. Built on top of pkg/runner.AsyncHandle.PollOnce, which reads the status
// file the Runner's async wrapper leaves on each host.
package poller

import (
	"context"
	"time"

	"github.com/umputun/fleetplay/pkg/runner"
)

// Poller drives the poll loop for one AsyncHandle.
type Poller struct {
	handle *runner.AsyncHandle
}

// New builds a Poller for handle, the value Runner.RunAsync returns.
func New(handle *runner.AsyncHandle) *Poller {
	return &Poller{handle: handle}
}

// Wait polls every host the job was launched on every interval seconds, up to
// seconds total, and returns once all hosts have finished or the budget is spent.
// Hosts still outstanding when the budget runs out are reported as timed-out
// failures, mirroring _async_poll's "likely got killed by async_wrapper" handling.
func (p *Poller) Wait(ctx context.Context, seconds, interval int) runner.Results {
	res := runner.Results{Contacted: map[string]runner.Result{}, Dark: map[string]string{}}
	if interval <= 0 {
		interval = 1
	}

	pending := map[string]runner.Host{}
	for _, h := range p.handle.Hosts() {
		pending[h.Name] = h
	}

	deadline := p.handle.AsyncDeadline(time.Now())
	if seconds > 0 {
		deadline = time.Now().Add(time.Duration(seconds) * time.Second)
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for len(pending) > 0 {
		if time.Now().After(deadline) {
			break
		}

		for name, h := range pending {
			result, done, err := p.handle.PollOnce(ctx, h)
			if err != nil {
				res.Dark[name] = err.Error()
				delete(pending, name)
				continue
			}
			if done {
				res.Contacted[name] = result
				delete(pending, name)
			}
		}

		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return p.failOutstanding(res, pending)
		case <-ticker.C:
		}
	}

	return p.failOutstanding(res, pending)
}

// HostsToPoll returns the hosts still outstanding, mirroring the original's
// poller.hosts_to_poll accessor used both mid-poll and after the deadline.
func (p *Poller) HostsToPoll(contacted map[string]runner.Result) []string {
	var out []string
	for _, h := range p.handle.Hosts() {
		if _, done := contacted[h.Name]; !done {
			out = append(out, h.Name)
		}
	}
	return out
}

// failOutstanding synthesizes a timed-out failure for every host still in pending once
// the poll loop gives up on them. RC is left nil: a timed-out host never reported a
// return code, so there is none to record.
func (p *Poller) failOutstanding(res runner.Results, pending map[string]runner.Host) runner.Results {
	for name := range pending {
		res.Contacted[name] = runner.Result{Failed: true, Msg: "timed out"}
	}
	return res
}
