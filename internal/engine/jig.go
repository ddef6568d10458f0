package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/supervisor"
	"github.com/exclave/exclave/internal/telemetry"
	"github.com/exclave/exclave/internal/unit"
)

// DetectJig evaluates every jig's predicates in library order and selects
// the first that matches. With no match Exclave runs in no-jig mode, where
// only units without a Jigs whitelist are usable.
func (e *Engine) DetectJig(ctx context.Context) (unit.Name, bool) {
	for _, name := range e.Lib.Enumerate(unit.KindJig) {
		entry, ok := e.Lib.Get(name)
		if !ok || entry.Unit == nil {
			continue
		}
		jig, ok := entry.Unit.(*unit.Jig)
		if !ok {
			continue
		}
		if reason, ok := e.jigMatches(ctx, jig); !ok {
			e.Bc.Publish(bus.NewLog(name, fmt.Sprintf("jig not present: %s", reason)))
			continue
		}

		if _, err := e.Lib.Select(name); err != nil {
			e.Bc.Publish(bus.NewLogError(name, fmt.Sprintf("unable to select jig: %v", err)))
			continue
		}
		e.mu.Lock()
		e.activeJig = name
		e.mu.Unlock()
		e.Work.SetJig(jig.WorkingDirectory)

		e.Bc.Publish(bus.NewLog(name, fmt.Sprintf("jig selected: %s", jig.Name)))
		e.Tel.Emit(telemetry.Event{Kind: telemetry.KindJigSelected, Unit: name.String()})
		e.eachFrontend(func(send func(Status)) {
			send(Status{Kind: StatusJig, Text: name.ID})
		})

		if !jig.DefaultScenario.IsZero() && e.Selected().IsZero() {
			e.selectScenario(name, jig.DefaultScenario)
		}
		return name, true
	}

	e.Bc.Publish(bus.NewLog(unit.Internal("main"), "no jig detected; running in no-jig mode"))
	return unit.Name{}, false
}

// jigMatches evaluates the jig's TestFile and TestProgram predicates. Both
// must pass when both are present; a jig with neither always matches.
func (e *Engine) jigMatches(ctx context.Context, jig *unit.Jig) (string, bool) {
	if jig.TestFile != "" {
		f, err := os.Open(jig.TestFile)
		if err != nil {
			return fmt.Sprintf("test file %s: %v", jig.TestFile, err), false
		}
		f.Close()
	}
	if jig.TestProgram != "" {
		res := e.runCommand(ctx, jig.ID, jig.TestProgram, &jig.Envelope, 0)
		if res.Outcome != supervisor.Pass {
			return fmt.Sprintf("test program returned %d", res.ExitCode), false
		}
	}
	return "", true
}

// RefreshDefaults fills in missing selections: with no scenario selected,
// the first one in the library wins.
func (e *Engine) RefreshDefaults() {
	if !e.Selected().IsZero() {
		return
	}
	scenarios := e.Lib.Enumerate(unit.KindScenario)
	if len(scenarios) > 0 {
		e.selectScenario(unit.Internal("main"), scenarios[0])
	}
}
