package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/umputun/fleetplay/pkg/executor"
)

// AsyncHandle is the Runner's handoff to pkg/poller: the set of hosts a background
// job was launched on, and enough identifying state to check each one's status file
// and collect its result once it finishes.
// Grounded on the original Ansible runner's async_status module contract: a job ID
// written to a host-local status file, polled until a return code appears.
type AsyncHandle struct {
	jobID      string
	jobSeconds int
	runner     *Runner
	hosts      []Host
}

// JobID returns the identifier the background job was launched under.
func (h *AsyncHandle) JobID() string { return h.jobID }

// Hosts returns every host the job was successfully launched on.
func (h *AsyncHandle) Hosts() []Host { return h.hosts }

// PollOnce checks host's status file once, returning done=true once a return code has
// been written. It never blocks; pkg/poller is responsible for the waiting/retry loop.
func (h *AsyncHandle) PollOnce(ctx context.Context, host Host) (result Result, done bool, err error) {
	remote, err := h.runner.cfg.Connector.Connect(ctx, fmt.Sprintf("%s:%d", host.Addr, host.Port), host.Name, host.User)
	if err != nil {
		return Result{}, false, err
	}
	defer remote.Close() //nolint

	statusFile := fmt.Sprintf("%s/%s.status", tmpRemoteDir, h.jobID)
	outFile := fmt.Sprintf("%s/%s.out", tmpRemoteDir, h.jobID)

	out, runErr := remote.Run(ctx, fmt.Sprintf("cat %s 2>/dev/null", statusFile), &executor.RunOpts{})
	if runErr != nil || len(out) == 0 || strings.TrimSpace(out[0]) == "" {
		return Result{}, false, nil // no status file yet, job still running
	}

	rc, convErr := strconv.Atoi(strings.TrimSpace(out[0]))
	if convErr != nil {
		return Result{}, false, fmt.Errorf("malformed status file for job %s on %s: %w", h.jobID, host.Name, convErr)
	}

	msg := ""
	if lines, err := remote.Run(ctx, fmt.Sprintf("cat %s 2>/dev/null", outFile), &executor.RunOpts{}); err == nil {
		msg = strings.Join(lines, "\n")
	}

	return Result{Changed: true, Failed: rc != 0, RC: &rc, Msg: msg}, true, nil
}

// AsyncSeconds is the job's allotted time budget, after which the poller synthesizes
// a timeout failure for any host still outstanding.
func (h *AsyncHandle) AsyncSeconds() int { return h.jobSeconds }

// AsyncDeadline is a convenience wrapper around AsyncSeconds for callers working in
// absolute time rather than a duration.
func (h *AsyncHandle) AsyncDeadline(from time.Time) time.Time {
	return from.Add(time.Duration(h.jobSeconds) * time.Second)
}
