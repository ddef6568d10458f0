package engine

import "github.com/exclave/exclave/internal/unit"

// StatusKind identifies a directed status message sent to one frontend, as
// opposed to the records everyone sees on the broadcast bus.
type StatusKind int

const (
	// StatusHello identifies the server to a newly attached frontend.
	StatusHello StatusKind = iota

	// StatusJig announces the active jig (Text empty in no-jig mode).
	StatusJig

	// StatusScenarios carries the list of known scenarios.
	StatusScenarios

	// StatusScenario announces the currently selected scenario.
	StatusScenario

	// StatusTests carries the planned test list of one scenario.
	StatusTests

	// StatusDescribe carries one field (name or description) of a unit.
	StatusDescribe
)

// Status is one directed message from the engine to a frontend.
type Status struct {
	Kind StatusKind

	// Text is the HELLO identification, or the JIG/SCENARIO name.
	Text string

	// List carries the units of Scenarios and Tests messages.
	List []unit.Name

	// Scenario scopes a Tests message.
	Scenario unit.Name

	// Unit, Field, Value make up a Describe message.
	Unit  unit.Name
	Field string
	Value string
}

// serverIdent is the HELLO identification string.
const serverIdent = "exclave 1.0"
