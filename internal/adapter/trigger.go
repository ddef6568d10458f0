package adapter

import (
	"fmt"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/unit"
	"github.com/exclave/exclave/internal/wire"
)

// Trigger runs one trigger child: an outbound-only process whose stdout
// lines start and stop scenarios. Buttons, barcode scanners, and timers all
// take this shape.
type Trigger struct {
	unit *unit.Trigger
	bc   *bus.Broadcast
	ctl  *bus.Control
	p    *proc
}

// StartTrigger spawns the trigger child and begins relaying its commands.
func StartTrigger(u *unit.Trigger, bc *bus.Broadcast, ctl *bus.Control, dir string) (*Trigger, error) {
	p, err := startProc(u.ExecStart, dir)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", u.ID, err)
	}

	t := &Trigger{unit: u, bc: bc, ctl: ctl, p: p}
	p.startReaders(t.handleLine,
		func(line string) { bc.Publish(bus.NewLogError(u.ID, line)) })
	go func() {
		<-p.done
		ctl.Send(bus.Command{Source: u.ID, Op: bus.OpChildExited})
	}()
	return t, nil
}

// handleLine parses the trigger protocol: HELLO, START [scenario], STOP,
// and LOG <msg>.
func (t *Trigger) handleLine(raw string) {
	line := wire.ParseLine(raw)
	src := t.unit.ID
	switch line.Verb {
	case "":
	case "hello":
		t.bc.Publish(bus.NewLog(src, "trigger: "+line.Rest()))
	case "start":
		cmd := bus.Command{Source: src, Op: bus.OpStart}
		if line.Arg(0) != "" {
			name, err := unit.ParseName(line.Arg(0), unit.KindScenario)
			if err != nil {
				t.ctl.Send(bus.Command{Source: src, Op: bus.OpLogError,
					Text: fmt.Sprintf("invalid scenario name: %v", err)})
				return
			}
			cmd.Name = name
		}
		t.ctl.Send(cmd)
	case "stop":
		t.ctl.Send(bus.Command{Source: src, Op: bus.OpAbort})
	case "log":
		t.ctl.Send(bus.Command{Source: src, Op: bus.OpLog, Text: line.Rest()})
	default:
		t.ctl.Send(bus.Command{Source: src, Op: bus.OpLogError,
			Text: fmt.Sprintf("unimplemented verb: %s", line.Verb)})
	}
}

// Stop terminates the trigger child.
func (t *Trigger) Stop() {
	t.p.stop()
}

// Done signals that the trigger child has exited.
func (t *Trigger) Done() <-chan struct{} {
	return t.p.done
}
