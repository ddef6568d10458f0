// Package engine drives scenarios: it consumes the control bus, resolves
// plans, sequences tests through the supervisor, runs coupon and stop hooks,
// and answers frontend queries. The engine is single-threaded over its own
// state; a running scenario lives in one goroutine and everything else
// reaches it through cancellation.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/config"
	"github.com/exclave/exclave/internal/library"
	"github.com/exclave/exclave/internal/supervisor"
	"github.com/exclave/exclave/internal/telemetry"
	"github.com/exclave/exclave/internal/unit"
)

// Engine owns the scenario lifecycle for one Exclave process.
type Engine struct {
	Lib  *library.Library
	Bc   *bus.Broadcast
	Ctl  *bus.Control
	Sup  *supervisor.Supervisor
	Cfg  config.Config
	Work *config.WorkDirs
	Tel  *telemetry.Emitter

	mu        sync.Mutex
	selected  unit.Name // currently selected scenario
	activeJig unit.Name
	running   bool
	abortRun  context.CancelFunc
	runDone   chan struct{}
	frontends map[unit.Name]func(Status)

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates an engine over the given collaborators.
func New(lib *library.Library, bc *bus.Broadcast, ctl *bus.Control,
	sup *supervisor.Supervisor, cfg config.Config, work *config.WorkDirs,
	tel *telemetry.Emitter) *Engine {
	return &Engine{
		Lib:       lib,
		Bc:        bc,
		Ctl:       ctl,
		Sup:       sup,
		Cfg:       cfg,
		Work:      work,
		Tel:       tel,
		frontends: make(map[unit.Name]func(Status)),
		quit:      make(chan struct{}),
	}
}

// Quit is closed when a SHUTDOWN command asks the process to exit.
func (e *Engine) Quit() <-chan struct{} {
	return e.quit
}

// Loop consumes the control bus until ctx is cancelled or a shutdown is
// requested. It is the only consumer of the control bus.
func (e *Engine) Loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.shutdown("parent cancelled")
			return
		case <-e.quit:
			return
		case cmd := <-e.Ctl.Commands():
			e.dispatch(ctx, cmd)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, cmd bus.Command) {
	switch cmd.Op {
	case bus.OpStart:
		e.handleStart(ctx, cmd)
	case bus.OpAbort:
		e.Abort()
	case bus.OpSelectScenario:
		e.selectScenario(cmd.Source, cmd.Name)
	case bus.OpJig:
		e.sendJig(cmd.Source)
	case bus.OpScenarios:
		e.sendScenarios(cmd.Source)
	case bus.OpTests:
		e.sendTests(cmd.Source, cmd.Name)
	case bus.OpHello:
		e.greet(cmd.Source)
	case bus.OpLog:
		e.Bc.Publish(bus.NewLog(cmd.Source, cmd.Text))
	case bus.OpLogError:
		e.Bc.Publish(bus.NewLogError(cmd.Source, cmd.Text))
	case bus.OpShutdown:
		e.shutdown(cmd.Text)
	case bus.OpChildExited:
		e.Bc.Publish(bus.NewLogError(cmd.Source, "unit unexpectedly exited"))
	case bus.OpPong:
		// Pong bookkeeping belongs to the interface adapters.
	}
}

func (e *Engine) handleStart(ctx context.Context, cmd bus.Command) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		// Acknowledged but discarded: one scenario at a time.
		e.Bc.Publish(bus.NewLog(cmd.Source, "START ignored: a scenario is already running"))
		return
	}

	name := cmd.Name
	if name.IsZero() {
		name = e.selected
	}
	if name.IsZero() {
		e.mu.Unlock()
		e.Bc.Publish(bus.NewLogError(cmd.Source,
			"unable to start: no scenario selected and none specified"))
		return
	}
	e.selected = name

	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.abortRun = cancel
	e.runDone = make(chan struct{})
	done := e.runDone
	jig := e.activeJig
	e.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			e.running = false
			e.abortRun = nil
			e.mu.Unlock()
			close(done)
		}()
		e.runScenario(runCtx, name, jig)
	}()
}

// Abort cancels the in-flight scenario, if any.
func (e *Engine) Abort() {
	e.mu.Lock()
	cancel := e.abortRun
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// WaitIdle blocks until no scenario is running. Used by tests and shutdown.
func (e *Engine) WaitIdle() {
	e.mu.Lock()
	done := e.runDone
	running := e.running
	e.mu.Unlock()
	if running && done != nil {
		<-done
	}
}

func (e *Engine) shutdown(reason string) {
	e.quitOnce.Do(func() {
		e.Bc.Publish(bus.NewRecord(bus.TypeShutdown, unit.Internal("main"), reason))
		e.Abort()
		close(e.quit)
	})
}

// Selected returns the currently selected scenario.
func (e *Engine) Selected() unit.Name {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// ActiveJig returns the detected jig, or the zero Name in no-jig mode.
func (e *Engine) ActiveJig() unit.Name {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeJig
}

func (e *Engine) selectScenario(from, name unit.Name) {
	if _, ok := e.Lib.Get(name); !ok {
		e.Bc.Publish(bus.NewLogError(from, fmt.Sprintf("unable to find scenario %s", name)))
		return
	}
	if _, err := e.Lib.Select(name); err != nil {
		e.Bc.Publish(bus.NewLogError(from, fmt.Sprintf("unable to select %s: %v", name, err)))
		return
	}
	e.mu.Lock()
	prev := e.selected
	e.selected = name
	e.mu.Unlock()
	// There can only be one selected scenario.
	if !prev.IsZero() && prev != name {
		e.Lib.Deselect(prev)
	}
	e.Tel.Emit(telemetry.Event{Kind: telemetry.KindScenarioSelected, Unit: name.String()})
	e.eachFrontend(func(send func(Status)) {
		send(Status{Kind: StatusScenario, Text: name.ID})
	})
}

// RegisterFrontend attaches an interface's directed-message callback. The
// callback must not block.
func (e *Engine) RegisterFrontend(name unit.Name, send func(Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frontends[name] = send
}

// UnregisterFrontend detaches a frontend.
func (e *Engine) UnregisterFrontend(name unit.Name) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.frontends, name)
}

func (e *Engine) frontend(name unit.Name) func(Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frontends[name]
}

func (e *Engine) eachFrontend(fn func(send func(Status))) {
	e.mu.Lock()
	sends := make([]func(Status), 0, len(e.frontends))
	for _, s := range e.frontends {
		sends = append(sends, s)
	}
	e.mu.Unlock()
	for _, s := range sends {
		fn(s)
	}
}

// greet sends the initial state a newly attached frontend needs: identity,
// jig, scenario list with descriptions, and the current selection.
func (e *Engine) greet(name unit.Name) {
	send := e.frontend(name)
	if send == nil {
		return
	}
	send(Status{Kind: StatusHello, Text: serverIdent})
	e.sendJig(name)
	e.sendScenarios(name)
	if sel := e.Selected(); !sel.IsZero() {
		send(Status{Kind: StatusScenario, Text: sel.ID})
		e.sendTests(name, sel)
	}
}

func (e *Engine) sendJig(name unit.Name) {
	send := e.frontend(name)
	if send == nil {
		return
	}
	jig := e.ActiveJig()
	if jig.IsZero() {
		send(Status{Kind: StatusJig})
		return
	}
	send(Status{Kind: StatusJig, Text: jig.ID})
	if entry, ok := e.Lib.Get(jig); ok && entry.Unit != nil {
		meta := entry.Unit.Meta()
		send(Status{Kind: StatusDescribe, Unit: jig, Field: "name", Value: meta.Name})
		send(Status{Kind: StatusDescribe, Unit: jig, Field: "description", Value: meta.Description})
	}
}

func (e *Engine) sendScenarios(name unit.Name) {
	send := e.frontend(name)
	if send == nil {
		return
	}
	list := e.Lib.Enumerate(unit.KindScenario)
	send(Status{Kind: StatusScenarios, List: list})
	for _, sn := range list {
		if entry, ok := e.Lib.Get(sn); ok && entry.Unit != nil {
			meta := entry.Unit.Meta()
			send(Status{Kind: StatusDescribe, Unit: sn, Field: "name", Value: meta.Name})
			send(Status{Kind: StatusDescribe, Unit: sn, Field: "description", Value: meta.Description})
		}
	}
}

// sendTests answers a TESTS query by planning the scenario against the
// current jig and reporting the spawnable order.
func (e *Engine) sendTests(name, scenario unit.Name) {
	send := e.frontend(name)
	if send == nil {
		return
	}
	if scenario.IsZero() {
		scenario = e.Selected()
	}
	if scenario.IsZero() {
		e.Bc.Publish(bus.NewLogError(name, "unable to list tests: no scenario selected"))
		return
	}
	plan, err := e.plan(scenario)
	if err != nil {
		e.Bc.Publish(bus.NewLogError(name, fmt.Sprintf("unable to list tests: %v", err)))
		return
	}
	var tests []unit.Name
	for _, step := range plan.Spawnable() {
		tests = append(tests, step.Name)
	}
	send(Status{Kind: StatusTests, Scenario: scenario, List: tests})
	for _, step := range plan.Spawnable() {
		meta := step.Test.Meta()
		send(Status{Kind: StatusDescribe, Unit: step.Name, Field: "name", Value: meta.Name})
		send(Status{Kind: StatusDescribe, Unit: step.Name, Field: "description", Value: meta.Description})
	}
}
