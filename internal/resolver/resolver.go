// Package resolver computes the execution schedule for one scenario: the
// goal tests in operator order, expanded with their Requires and Suggests
// closures, with Provides references substituted by concrete jig-compatible
// tests. The schedule is immutable once produced; dynamic failures are
// handled downstream by skipping dependents, never by re-planning.
package resolver

import (
	"fmt"
	"strings"

	"github.com/exclave/exclave/internal/library"
	"github.com/exclave/exclave/internal/unit"
)

// CycleError is returned when a dependency cycle contains at least one hard
// (Requires) edge; cycles made only of Suggests edges are broken instead.
type CycleError struct {
	Path []unit.Name
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Path))
	for _, n := range e.Path {
		parts = append(parts, n.String())
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// UnsatisfiedError is returned when a hard dependency cannot be resolved
// against the library and active jig.
type UnsatisfiedError struct {
	Test    unit.Name
	Missing unit.Name
}

func (e *UnsatisfiedError) Error() string {
	return fmt.Sprintf("%s: requirement %q not satisfiable", e.Test, e.Missing)
}

// Step is one entry in a schedule.
type Step struct {
	Name unit.Name

	// Test is the concrete unit to spawn. It is nil for assumed steps
	// whose unit file is not present in the library.
	Test *unit.Test

	// Assumed steps are treated as already passed and never spawned.
	Assumed bool

	// HardDeps are the resolved direct Requires of this step. The engine
	// skips the step if any of them did not pass.
	HardDeps []unit.Name
}

// Plan is a resolved schedule for one scenario run.
type Plan struct {
	Scenario unit.Name
	Steps    []Step

	// Warnings lists soft dependencies that were dropped because they
	// were unsatisfiable or closed a cycle.
	Warnings []string
}

// Spawnable returns the steps that will actually run, in order.
func (p *Plan) Spawnable() []Step {
	out := make([]Step, 0, len(p.Steps))
	for _, s := range p.Steps {
		if !s.Assumed {
			out = append(out, s)
		}
	}
	return out
}

// planner carries the traversal state of one Resolve call.
type planner struct {
	lib *library.Library
	scn *unit.Scenario
	jig unit.Name

	assumed map[unit.Name]bool // names provided by Assume entries

	emitted map[unit.Name]bool
	inPath  map[unit.Name]bool
	path    []unit.Name

	// pathHard records, for each path entry, whether it was reached over a
	// hard edge.
	pathHard []bool

	plan *Plan
}

// Resolve computes the schedule for the scenario against the library and the
// active jig (zero Name for no-jig mode). It returns a Plan, or a
// *CycleError, an *UnsatisfiedError, or a plain error for a reference that
// names a unit which is not a test.
func Resolve(lib *library.Library, scn *unit.Scenario, jig unit.Name) (*Plan, error) {
	p := &planner{
		lib:     lib,
		scn:     scn,
		jig:     jig,
		assumed: make(map[unit.Name]bool),
		emitted: make(map[unit.Name]bool),
		inPath:  make(map[unit.Name]bool),
		plan:    &Plan{Scenario: scn.ID},
	}

	// Assumed tests head the plan as synthetic passed entries. Everything
	// they provide counts as satisfied during expansion.
	for _, a := range scn.Assume {
		step := Step{Name: a, Assumed: true}
		p.assumed[a] = true
		if e, ok := lib.Get(a); ok {
			if test, ok := e.Unit.(*unit.Test); ok {
				step.Test = test
				for _, prov := range test.Provides {
					p.assumed[prov] = true
				}
			}
		}
		p.plan.Steps = append(p.plan.Steps, step)
	}

	for _, goal := range scn.Tests {
		if err := p.expand(unit.Name{}, goal, true); err != nil {
			return nil, err
		}
	}
	return p.plan, nil
}

// expand resolves one reference and emits its closure in dependency order.
// from names the referring test (zero for scenario goals); hard says whether
// the edge may fail the plan.
func (p *planner) expand(from, token unit.Name, hard bool) error {
	if p.assumed[token] {
		return nil
	}

	concrete, err := p.lib.ResolveReference(token, p.jig)
	if err != nil {
		if hard {
			missing := token
			return &UnsatisfiedError{Test: orScenario(from, p.scn.ID), Missing: missing}
		}
		p.plan.Warnings = append(p.plan.Warnings,
			fmt.Sprintf("%s: suggestion %q not satisfiable, dropped", orScenario(from, p.scn.ID), token))
		return nil
	}
	if p.assumed[concrete] {
		return nil
	}

	if p.inPath[concrete] {
		// The cycle runs from concrete's place in the path back to it. If
		// every edge on it, the closing one included, is soft, drop the
		// closing edge; any hard edge makes the cycle unbreakable.
		soft := !hard
		for i := len(p.path) - 1; soft && p.path[i] != concrete; i-- {
			soft = !p.pathHard[i]
		}
		if soft {
			p.plan.Warnings = append(p.plan.Warnings,
				fmt.Sprintf("%s: suggestion %q closes a dependency cycle, dropped", from, token))
			return nil
		}
		return &CycleError{Path: append(append([]unit.Name(nil), p.path...), concrete)}
	}
	if p.emitted[concrete] {
		return nil
	}

	e, ok := p.lib.Get(concrete)
	if !ok || e.Unit == nil {
		if hard {
			return &UnsatisfiedError{Test: orScenario(from, p.scn.ID), Missing: token}
		}
		return nil
	}
	test, ok := e.Unit.(*unit.Test)
	if !ok {
		return fmt.Errorf("%s: reference %q is not a test", orScenario(from, p.scn.ID), token)
	}

	p.inPath[concrete] = true
	p.path = append(p.path, concrete)
	p.pathHard = append(p.pathHard, hard)

	var hardDeps []unit.Name
	for _, req := range test.Requires {
		if err := p.expand(concrete, req, true); err != nil {
			return err
		}
		if dep, ok := p.resolved(req); ok {
			hardDeps = append(hardDeps, dep)
		}
	}
	for _, sug := range test.Suggests {
		if err := p.expand(concrete, sug, false); err != nil {
			return err
		}
	}

	p.path = p.path[:len(p.path)-1]
	p.pathHard = p.pathHard[:len(p.pathHard)-1]
	delete(p.inPath, concrete)

	p.emitted[concrete] = true
	p.plan.Steps = append(p.plan.Steps, Step{Name: concrete, Test: test, HardDeps: hardDeps})
	return nil
}

// resolved maps a requirement token to the concrete test it landed on, when
// that test is actually part of the schedule (assumed requirements are
// satisfied without one).
func (p *planner) resolved(token unit.Name) (unit.Name, bool) {
	if p.assumed[token] {
		return unit.Name{}, false
	}
	concrete, err := p.lib.ResolveReference(token, p.jig)
	if err != nil || p.assumed[concrete] {
		return unit.Name{}, false
	}
	return concrete, true
}

func orScenario(from, scenario unit.Name) unit.Name {
	if from.IsZero() {
		return scenario
	}
	return from
}
