// Package supervisor owns the child processes Exclave spawns for tests, stop
// hooks, coupon hooks, and jig detection programs; adapter children are run
// by the adapter package on plain pipes instead. Children run in their
// own session attached to a fresh pseudo-terminal so their stdout is line
// buffered; stderr stays a separate pipe. Timeouts escalate from SIGTERM to
// SIGKILL against the whole process group, which also kills grandchildren.
package supervisor

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/unit"
)

// Outcome is the terminal state of a supervised child.
type Outcome int

const (
	// Pass means the child exited 0 (or a daemon became ready).
	Pass Outcome = iota

	// Fail means a nonzero exit, death by signal, a spawn failure, or a
	// daemon that exited before becoming ready.
	Fail

	// Timeout means the child outlived its budget and was killed.
	Timeout

	// Aborted means the run was cancelled from outside.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Timeout:
		return "timeout"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Result describes how a child finished.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Signal   int
	Reason   string

	// LastLine is the final output line, from stdout or stderr, whichever
	// came last; it is used as the pass/fail message.
	LastLine string

	// Leaked is set when the child survived SIGKILL past the leak grace;
	// the engine proceeds anyway.
	Leaked bool
}

// Spec describes one child to spawn. Commands run through /bin/sh -c.
type Spec struct {
	Unit    unit.Name
	Command string
	Dir     string
	Env     []string

	// Timeout bounds the child's wall clock (or a daemon's readiness
	// wait). Zero means unbounded.
	Timeout time.Duration
}

// Supervisor spawns and reaps children, publishing their output onto the
// broadcast bus.
type Supervisor struct {
	Broadcast *bus.Broadcast

	// TerminateGrace is the SIGTERM to SIGKILL escalation wait.
	TerminateGrace time.Duration

	// LeakGrace is the post-SIGKILL wait before a child is written off
	// as leaked.
	LeakGrace time.Duration
}

// New creates a supervisor with the given grace windows.
func New(bc *bus.Broadcast, terminateGrace, leakGrace time.Duration) *Supervisor {
	return &Supervisor{Broadcast: bc, TerminateGrace: terminateGrace, LeakGrace: leakGrace}
}

// Run spawns a simple child and blocks until it reaches a terminal state:
// exit, timeout escalation, or abort via ctx.
func (s *Supervisor) Run(ctx context.Context, spec Spec) Result {
	c, err := s.spawn(spec)
	if err != nil {
		s.Broadcast.Publish(bus.NewLogError(spec.Unit, fmt.Sprintf("unable to start: %v", err)))
		return Result{Outcome: Fail, ExitCode: -1, Reason: fmt.Sprintf("spawn: %v", err)}
	}
	c.startPumps()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-c.Done():
		return c.result()
	case <-timeoutCh:
		leaked := s.terminate(c)
		res := c.result()
		return Result{Outcome: Timeout, ExitCode: res.ExitCode, Reason: "timeout",
			LastLine: res.LastLine, Leaked: leaked}
	case <-ctx.Done():
		leaked := s.terminate(c)
		res := c.result()
		return Result{Outcome: Aborted, ExitCode: res.ExitCode, Reason: "aborted",
			LastLine: res.LastLine, Leaked: leaked}
	}
}

// Daemon is a long-lived child that stays up after its readiness marker.
type Daemon struct {
	sup *Supervisor
	c   *child
}

// StartDaemon spawns a daemon child and blocks until it is ready, it exits
// prematurely, the readiness wait times out, or ctx is cancelled. On a Pass
// result the returned Daemon is live and must eventually be stopped.
func (s *Supervisor) StartDaemon(ctx context.Context, spec Spec, ready *regexp.Regexp) (*Daemon, Result) {
	c, err := s.spawn(spec)
	if err != nil {
		s.Broadcast.Publish(bus.NewLogError(spec.Unit, fmt.Sprintf("unable to start: %v", err)))
		return nil, Result{Outcome: Fail, ExitCode: -1, Reason: fmt.Sprintf("spawn: %v", err)}
	}
	c.watchReady(ready)
	c.startPumps()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-c.ready:
		return &Daemon{sup: s, c: c}, Result{Outcome: Pass, LastLine: c.lastLine()}
	case <-c.Done():
		res := c.result()
		res.Outcome = Fail
		res.Reason = "daemon exited before ready text was seen"
		return nil, res
	case <-timeoutCh:
		leaked := s.terminate(c)
		res := c.result()
		return nil, Result{Outcome: Timeout, ExitCode: res.ExitCode,
			Reason: "timed out waiting for ready text", LastLine: res.LastLine, Leaked: leaked}
	case <-ctx.Done():
		leaked := s.terminate(c)
		res := c.result()
		return nil, Result{Outcome: Aborted, ExitCode: res.ExitCode, Reason: "aborted",
			LastLine: res.LastLine, Leaked: leaked}
	}
}

// Done signals when the daemon's child has exited, for any reason.
func (d *Daemon) Done() <-chan struct{} {
	return d.c.Done()
}

// ExitedEarly reports whether the daemon has already died on its own, and
// how, without stopping it.
func (d *Daemon) ExitedEarly() (Result, bool) {
	select {
	case <-d.c.Done():
		return d.c.result(), true
	default:
		return Result{}, false
	}
}

// Stop terminates the daemon with the usual escalation and returns its exit
// result. Stopping an already-dead daemon just reports how it died.
func (d *Daemon) Stop() Result {
	if res, ok := d.ExitedEarly(); ok {
		return res
	}
	leaked := d.sup.terminate(d.c)
	res := d.c.result()
	res.Leaked = res.Leaked || leaked
	return res
}

// terminate escalates SIGTERM, then SIGKILL after the grace window, against
// the child's process group. It returns true if the child is leaked: still
// not reaped a leak-grace after SIGKILL. A leaked child's result reflects
// whatever state was known when we gave up.
func (s *Supervisor) terminate(c *child) bool {
	c.signalGroup(termSignal)
	select {
	case <-c.Done():
		return false
	case <-time.After(s.TerminateGrace):
	}

	c.signalGroup(killSignal)
	select {
	case <-c.Done():
		return false
	case <-time.After(s.LeakGrace):
		s.Broadcast.Publish(bus.NewLogError(c.spec.Unit,
			fmt.Sprintf("process group %d ignored SIGKILL; leaking it", c.pid())))
		return true
	}
}
