package bus

import "github.com/exclave/exclave/internal/unit"

// Op identifies a control-bus command.
type Op int

const (
	// OpStart starts a scenario; Name selects it, or the zero Name means
	// the currently selected scenario.
	OpStart Op = iota

	// OpAbort stops the running scenario immediately.
	OpAbort

	// OpSelectScenario changes the selected scenario without starting it.
	OpSelectScenario

	// OpJig asks for the active jig to be (re)announced to the sender.
	OpJig

	// OpScenarios asks for the scenario list.
	OpScenarios

	// OpTests asks for the test list of Name, or of the selected scenario
	// when Name is zero.
	OpTests

	// OpHello announces a newly attached frontend; the engine answers by
	// sending the initial greeting to Source.
	OpHello

	// OpLog injects a log line onto the broadcast bus.
	OpLog

	// OpLogError injects an error-class log line onto the broadcast bus.
	OpLogError

	// OpPong answers a PING; Text carries the echoed ID.
	OpPong

	// OpShutdown asks Exclave to exit; Text carries the reason.
	OpShutdown

	// OpChildExited reports that an adapter child has exited on its own.
	OpChildExited
)

// Command is one message on the control bus.
type Command struct {
	// Source is the unit the command came from.
	Source unit.Name

	Op Op

	// Name is the command's unit argument, when it takes one.
	Name unit.Name

	// Text is the command's free-form argument, when it takes one.
	Text string
}

// controlBuffer bounds the control bus. Producers block when it fills, so
// commands are never lost.
const controlBuffer = 64

// Control is the many-to-one command bus. Sends are ordered and lossless.
type Control struct {
	ch chan Command
}

// NewControl creates a control bus.
func NewControl() *Control {
	return &Control{ch: make(chan Command, controlBuffer)}
}

// Send enqueues a command, blocking if the bus is full.
func (c *Control) Send(cmd Command) {
	c.ch <- cmd
}

// TrySend enqueues a command unless the bus is full. It exists for callers
// that must never block, such as signal handlers.
func (c *Control) TrySend(cmd Command) bool {
	select {
	case c.ch <- cmd:
		return true
	default:
		return false
	}
}

// Commands returns the consumer side of the bus.
func (c *Control) Commands() <-chan Command {
	return c.ch
}
