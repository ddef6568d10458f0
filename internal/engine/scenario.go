package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/resolver"
	"github.com/exclave/exclave/internal/supervisor"
	"github.com/exclave/exclave/internal/telemetry"
	"github.com/exclave/exclave/internal/unit"
)

// FINISH codes, mirrored onto the wire.
const (
	FinishSuccess   = 200
	FinishPlanError = 400
	FinishPreflight = 412
	FinishAborted   = 499
	FinishTestFail  = 500
	FinishTimeout   = 504
)

// stepState tracks one planned test through a run.
type stepState int

const (
	statePending stepState = iota
	statePass
	stateFail
	stateTimeout
	stateSkipped

	// stateDaemon means the child is up and ready; it counts as passing
	// for dependents while it keeps running.
	stateDaemon
)

// passing reports whether a dependent may run on top of this state.
func (s stepState) passing() bool {
	return s == statePass || s == stateDaemon
}

// spawnedRun records a test that actually started, for the stop-hook pass.
type spawnedRun struct {
	step   resolver.Step
	passed bool
	daemon *supervisor.Daemon
}

// plan resolves the named scenario against the active jig.
func (e *Engine) plan(scenario unit.Name) (*resolver.Plan, error) {
	entry, ok := e.Lib.Get(scenario)
	if !ok || entry.Unit == nil {
		return nil, fmt.Errorf("scenario %s not found", scenario)
	}
	scn, ok := entry.Unit.(*unit.Scenario)
	if !ok {
		return nil, fmt.Errorf("%s is not a scenario", scenario)
	}
	jig := e.ActiveJig()
	if !scn.CompatibleWith(jig) {
		return nil, fmt.Errorf("scenario %s is not compatible with jig %s", scenario, jig)
	}
	return resolver.Resolve(e.Lib, scn, jig)
}

// runScenario drives one scenario from plan to FINISH. It runs in its own
// goroutine; ctx cancellation is the abort path.
func (e *Engine) runScenario(ctx context.Context, name, jig unit.Name) {
	u, err := e.Lib.Select(name)
	if err != nil {
		e.finish(name, FinishPlanError, err.Error())
		return
	}
	scn, ok := u.(*unit.Scenario)
	if !ok {
		e.finish(name, FinishPlanError, fmt.Sprintf("%s is not a scenario", name))
		return
	}

	plan, err := e.plan(name)
	if err != nil {
		e.finish(name, FinishPlanError, err.Error())
		return
	}
	for _, w := range plan.Warnings {
		e.Bc.Publish(bus.NewLog(name, w))
	}

	e.Work.SetScenario(scn.WorkingDirectory)
	defer e.Work.SetScenario("")

	// Coupon preflight: any nonzero checkout aborts before the first test.
	coupons := e.couponsFor(name, jig)
	for _, c := range coupons {
		if c.ExecPreflight == "" {
			continue
		}
		res := e.runCommand(ctx, c.ID, c.ExecPreflight, c.Meta(), c.Timeout)
		if res.Outcome != supervisor.Pass {
			e.Bc.Publish(bus.NewLogError(c.ID, fmt.Sprintf("preflight failed: %s", res.Reason)))
			e.finish(name, FinishPreflight, res.Reason)
			return
		}
	}

	e.Bc.Publish(bus.NewRecord(bus.TypeStart, name, name.ID))
	e.Tel.Emit(telemetry.Event{Kind: telemetry.KindScenarioStart, Unit: name.String()})

	var deadline time.Time
	if scn.Timeout > 0 {
		deadline = time.Now().Add(scn.Timeout)
	}

	// The scenario's own ExecStart is non-fatal: a failure is logged and
	// the tests run anyway.
	if scn.ExecStart != "" {
		res := e.runCommand(ctx, name, scn.ExecStart, &scn.Envelope, scn.ExecStartTimeout)
		if res.Outcome != supervisor.Pass {
			e.Bc.Publish(bus.NewLogError(name, fmt.Sprintf("ExecStart failed: %s", res.Reason)))
		}
	}

	states := make(map[unit.Name]stepState)
	for _, step := range plan.Steps {
		if step.Assumed {
			states[step.Name] = statePass
		} else {
			states[step.Name] = statePending
		}
	}

	var (
		spawned  []spawnedRun
		failures int
		timedOut bool
		aborted  bool
	)

	for _, step := range plan.Spawnable() {
		if ctx.Err() != nil {
			aborted = true
		}
		if aborted {
			states[step.Name] = stateSkipped
			e.skip(step.Name, "aborted")
			continue
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			timedOut = true
			states[step.Name] = stateSkipped
			e.skip(step.Name, "scenario timeout")
			continue
		}
		if dep, ok := failedDep(states, step); ok {
			states[step.Name] = stateSkipped
			e.skip(step.Name, fmt.Sprintf("upstream-failed %s", dep.ID))
			continue
		}

		test := step.Test
		e.Bc.Publish(bus.NewRecord(bus.TypeRunning, step.Name, ""))
		spec := supervisor.Spec{
			Unit:    step.Name,
			Command: test.ExecStart,
			Dir:     e.Work.Resolve(test.WorkingDirectory, test.UnitDir),
			Timeout: clampTimeout(test.Timeout, deadline),
		}

		if test.Type == unit.Daemon {
			d, res := e.Sup.StartDaemon(ctx, spec, test.DaemonReady)
			switch {
			case res.Outcome == supervisor.Pass:
				states[step.Name] = stateDaemon
				spawned = append(spawned, spawnedRun{step: step, passed: true, daemon: d})
				e.Bc.Publish(bus.NewRecord(bus.TypeDaemonized, step.Name, res.LastLine))
				e.testState(step.Name, "daemonized")
			case res.Outcome == supervisor.Aborted:
				aborted = true
				states[step.Name] = stateFail
				e.fail(step.Name, "aborted")
			case res.Outcome == supervisor.Timeout:
				failures++
				timedOut = timedOut || (!deadline.IsZero() && !time.Now().Before(deadline))
				states[step.Name] = stateTimeout
				e.fail(step.Name, "timeout")
			default:
				failures++
				states[step.Name] = stateFail
				e.fail(step.Name, res.Reason)
			}
			continue
		}

		res := e.Sup.Run(ctx, spec)
		run := spawnedRun{step: step}
		switch res.Outcome {
		case supervisor.Pass:
			states[step.Name] = statePass
			run.passed = true
			e.Bc.Publish(bus.NewRecord(bus.TypePass, step.Name, res.LastLine))
			e.testState(step.Name, "pass")
		case supervisor.Aborted:
			aborted = true
			states[step.Name] = stateFail
			e.fail(step.Name, "aborted")
		case supervisor.Timeout:
			failures++
			timedOut = timedOut || (!deadline.IsZero() && !time.Now().Before(deadline))
			states[step.Name] = stateTimeout
			e.fail(step.Name, "timeout")
		default:
			failures++
			states[step.Name] = stateFail
			e.fail(step.Name, res.Reason)
		}
		spawned = append(spawned, run)
	}

	// A daemon that died before the stop phase retroactively fails.
	for i := range spawned {
		run := &spawned[i]
		if run.daemon == nil {
			continue
		}
		if exit, ok := run.daemon.ExitedEarly(); ok {
			failures++
			states[run.step.Name] = stateFail
			run.passed = false
			run.daemon = nil
			e.fail(run.step.Name, fmt.Sprintf("daemon exited prematurely: %s", exit.Reason))
		}
	}

	// Stop phase: reverse spawn order. Daemons are reaped first, then the
	// test's stop hook runs. Hooks survive an abort, so they get a fresh
	// context. A failed hook is logged but cannot un-pass a test.
	for i := len(spawned) - 1; i >= 0; i-- {
		run := spawned[i]
		if run.daemon != nil {
			run.daemon.Stop()
		}
		hook := run.step.Test.StopCommand(run.passed)
		if hook == "" {
			continue
		}
		res := e.runCommand(context.Background(), run.step.Name, hook,
			run.step.Test.Meta(), run.step.Test.StopTimeout(run.passed))
		if res.Outcome != supervisor.Pass {
			e.Bc.Publish(bus.NewLogError(run.step.Name,
				fmt.Sprintf("stop hook failed: %s", res.Reason)))
		}
	}

	success := failures == 0 && !timedOut && !aborted

	// Scenario-level hooks, then coupon commit/rollback. A coupon whose
	// commit fails poisons the whole run; its rollback is NOT run, since
	// the coupon was consumed.
	e.runScenarioHook(scn, success)
	testsPassed := success
	for _, c := range coupons {
		if testsPassed {
			if c.ExecStopSuccess == "" {
				continue
			}
			res := e.runCommand(context.Background(), c.ID, c.ExecStopSuccess, c.Meta(), c.Timeout)
			if res.Outcome != supervisor.Pass {
				success = false
				failures++
				e.Bc.Publish(bus.NewLogError(c.ID,
					fmt.Sprintf("coupon commit failed: %s", res.Reason)))
			}
		} else if c.ExecStopFail != "" {
			res := e.runCommand(context.Background(), c.ID, c.ExecStopFail, c.Meta(), c.Timeout)
			if res.Outcome != supervisor.Pass {
				e.Bc.Publish(bus.NewLogError(c.ID,
					fmt.Sprintf("coupon rollback failed: %s", res.Reason)))
			}
		}
	}

	switch {
	case aborted:
		e.finish(name, FinishAborted, "aborted")
	case timedOut:
		e.finish(name, FinishTimeout, "scenario timeout")
	case !success:
		e.finish(name, FinishTestFail, "at least one test failed")
	default:
		e.finish(name, FinishSuccess, "all tests passed")
	}
}

// runScenarioHook runs the scenario's own stop hook for the outcome.
func (e *Engine) runScenarioHook(scn *unit.Scenario, success bool) {
	var hook string
	var timeout time.Duration
	if success {
		hook, timeout = scn.ExecStopSuccess, scn.StopSuccessTimeout
	} else {
		hook, timeout = scn.ExecStopFail, scn.StopFailTimeout
	}
	if hook == "" {
		return
	}
	res := e.runCommand(context.Background(), scn.ID, hook, &scn.Envelope, timeout)
	if res.Outcome != supervisor.Pass {
		e.Bc.Publish(bus.NewLogError(scn.ID, fmt.Sprintf("stop hook failed: %s", res.Reason)))
	}
}

// runCommand runs a support command (hook, preflight, detection program)
// under the supervisor with the unit's working directory.
func (e *Engine) runCommand(ctx context.Context, name unit.Name, command string,
	meta *unit.Envelope, timeout time.Duration) supervisor.Result {
	if timeout == 0 {
		timeout = e.Cfg.DefaultTimeout
	}
	return e.Sup.Run(ctx, supervisor.Spec{
		Unit:    name,
		Command: command,
		Dir:     e.Work.Resolve(meta.WorkingDirectory, meta.UnitDir),
		Timeout: timeout,
	})
}

// couponsFor lists the jig-compatible coupons participating in a scenario.
func (e *Engine) couponsFor(scenario, jig unit.Name) []*unit.Coupon {
	var out []*unit.Coupon
	for _, u := range e.Lib.Units(unit.KindCoupon) {
		c, ok := u.(*unit.Coupon)
		if !ok {
			continue
		}
		if c.AppliesTo(scenario) && c.CompatibleWith(jig) {
			out = append(out, c)
		}
	}
	return out
}

// failedDep returns the first hard prerequisite that did not pass.
func failedDep(states map[unit.Name]stepState, step resolver.Step) (unit.Name, bool) {
	for _, dep := range step.HardDeps {
		if !states[dep].passing() {
			return dep, true
		}
	}
	return unit.Name{}, false
}

// clampTimeout limits a test's timeout to what remains of the scenario
// budget. A zero test timeout inherits the remaining budget outright.
func clampTimeout(t time.Duration, deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return t
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	if t == 0 || t > remaining {
		return remaining
	}
	return t
}

func (e *Engine) skip(name unit.Name, reason string) {
	e.Bc.Publish(bus.NewRecord(bus.TypeSkip, name, reason))
	e.testState(name, "skip")
}

func (e *Engine) fail(name unit.Name, reason string) {
	e.Bc.Publish(bus.NewRecord(bus.TypeFail, name, reason))
	e.testState(name, "fail")
}

func (e *Engine) testState(name unit.Name, state string) {
	e.Tel.Emit(telemetry.Event{Kind: telemetry.KindTestState, Unit: name.String(), Data: state})
}

// finish emits the terminal FINISH record for a run.
func (e *Engine) finish(name unit.Name, code int, reason string) {
	if code != FinishSuccess {
		e.Bc.Publish(bus.NewLogError(name, reason))
	}
	e.Bc.Publish(bus.NewRecord(bus.TypeFinish, name, fmt.Sprintf("%d %s", code, name.ID)))
	e.Tel.Emit(telemetry.Event{Kind: telemetry.KindScenarioFinish, Unit: name.String(), Data: code})
}
