package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/engine"
	"github.com/exclave/exclave/internal/unit"
	"github.com/exclave/exclave/internal/wire"
)

const (
	// pingInterval is how often an interface client is pinged.
	pingInterval = 30 * time.Second

	// pongTimeout is how long the client has to answer a PING.
	pongTimeout = 5 * time.Second
)

// Interface runs one frontend child: broadcast records and directed status
// messages go to its stdin; verbs on its stdout become control commands.
type Interface struct {
	unit *unit.Interface
	bc   *bus.Broadcast
	ctl  *bus.Control
	eng  *engine.Engine
	sub  *bus.Subscriber
	p    *proc

	pongs chan string

	stopOnce sync.Once
}

// StartInterface spawns the interface child, registers it as a frontend with
// the engine, and asks for the initial greeting.
func StartInterface(u *unit.Interface, eng *engine.Engine, bc *bus.Broadcast,
	ctl *bus.Control, dir string) (*Interface, error) {
	p, err := startProc(u.ExecStart, dir)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", u.ID, err)
	}

	i := &Interface{
		unit:  u,
		bc:    bc,
		ctl:   ctl,
		eng:   eng,
		sub:   bc.Subscribe("interface:" + u.ID.ID),
		p:     p,
		pongs: make(chan string, 4),
	}
	eng.RegisterFrontend(u.ID, i.sendStatus)

	p.startReaders(i.handleLine,
		func(line string) { bc.Publish(bus.NewLogError(u.ID, line)) })
	go i.pumpRecords()
	go i.pingLoop()
	go func() {
		<-p.done
		ctl.Send(bus.Command{Source: u.ID, Op: bus.OpChildExited})
	}()

	// The greeting flows through the control bus so it serializes with
	// everything else the engine does.
	ctl.Send(bus.Command{Source: u.ID, Op: bus.OpHello})
	return i, nil
}

// Stop detaches the frontend and terminates the child.
func (i *Interface) Stop() {
	i.stopOnce.Do(func() {
		i.eng.UnregisterFrontend(i.unit.ID)
		i.bc.Unsubscribe(i.sub)
		i.p.stop()
	})
}

// Done signals that the interface child has exited.
func (i *Interface) Done() <-chan struct{} {
	return i.p.done
}

// handleLine parses one client verb line into a control command.
func (i *Interface) handleLine(raw string) {
	line := wire.ParseLine(raw)
	src := i.unit.ID
	switch line.Verb {
	case "":
	case "hello":
		i.bc.Publish(bus.NewLog(src, "client: "+line.Rest()))
	case "jig":
		i.ctl.Send(bus.Command{Source: src, Op: bus.OpJig})
	case "scenarios":
		i.ctl.Send(bus.Command{Source: src, Op: bus.OpScenarios})
	case "scenario":
		name, err := unit.ParseName(line.Arg(0), unit.KindScenario)
		if err != nil {
			i.ctl.Send(bus.Command{Source: src, Op: bus.OpLogError,
				Text: fmt.Sprintf("invalid scenario name: %v", err)})
			return
		}
		i.ctl.Send(bus.Command{Source: src, Op: bus.OpSelectScenario, Name: name})
	case "tests":
		cmd := bus.Command{Source: src, Op: bus.OpTests}
		if line.Arg(0) != "" {
			name, err := unit.ParseName(line.Arg(0), unit.KindScenario)
			if err != nil {
				i.ctl.Send(bus.Command{Source: src, Op: bus.OpLogError,
					Text: fmt.Sprintf("invalid scenario name: %v", err)})
				return
			}
			cmd.Name = name
		}
		i.ctl.Send(cmd)
	case "start":
		cmd := bus.Command{Source: src, Op: bus.OpStart}
		if line.Arg(0) != "" {
			name, err := unit.ParseName(line.Arg(0), unit.KindScenario)
			if err != nil {
				i.ctl.Send(bus.Command{Source: src, Op: bus.OpLogError,
					Text: fmt.Sprintf("invalid scenario name: %v", err)})
				return
			}
			cmd.Name = name
		}
		i.ctl.Send(cmd)
	case "abort":
		i.ctl.Send(bus.Command{Source: src, Op: bus.OpAbort})
	case "pong":
		select {
		case i.pongs <- line.Arg(0):
		default:
		}
	case "log":
		i.ctl.Send(bus.Command{Source: src, Op: bus.OpLog, Text: line.Rest()})
	case "shutdown":
		i.ctl.Send(bus.Command{Source: src, Op: bus.OpShutdown, Text: line.Rest()})
	default:
		i.ctl.Send(bus.Command{Source: src, Op: bus.OpLogError,
			Text: fmt.Sprintf("unimplemented verb: %s (args: %s)", line.Verb, line.Rest())})
	}
}

// pumpRecords renders broadcast records as server verbs on the child's stdin.
func (i *Interface) pumpRecords() {
	for r := range i.sub.Records() {
		var err error
		if i.unit.Format == unit.JSONVerbs {
			var out []byte
			out, err = wire.EncodeJSON(r)
			if err == nil {
				err = i.p.write(out)
			}
		} else {
			err = i.p.writeLine(renderRecord(r))
		}
		if err != nil {
			i.bc.Unsubscribe(i.sub)
			i.bc.Publish(bus.NewLogError(i.unit.ID, fmt.Sprintf("interface write failed: %v", err)))
			return
		}
	}
}

// renderRecord maps a broadcast record to its text-protocol server line.
func renderRecord(r bus.Record) string {
	switch r.Type {
	case bus.TypeLog:
		return "LOG " + strings.TrimSuffix(wire.EncodeTSV(r), "\n")
	case bus.TypeRunning, bus.TypeDaemonized:
		return fmt.Sprintf("%s %s", r.Type, r.Unit.ID)
	case bus.TypeStart, bus.TypeFinish:
		// The message already carries "<scenario>" / "<code> <scenario>".
		return fmt.Sprintf("%s %s", r.Type, wire.Escape(r.Message))
	default:
		return fmt.Sprintf("%s %s %s", r.Type, r.Unit.ID, wire.Escape(r.Message))
	}
}

// sendStatus renders a directed engine message for this frontend. Must not
// be called after Stop; a write failure is surfaced as an error record.
func (i *Interface) sendStatus(s engine.Status) {
	var err error
	if i.unit.Format == unit.JSONVerbs {
		err = i.writeStatusJSON(s)
	} else {
		err = i.p.writeLine(renderStatus(s))
	}
	if err != nil {
		i.bc.Publish(bus.NewLogError(i.unit.ID, fmt.Sprintf("interface write failed: %v", err)))
	}
}

// renderStatus maps a directed status to its text-protocol line.
func renderStatus(s engine.Status) string {
	switch s.Kind {
	case engine.StatusHello:
		return "HELLO " + wire.Escape(s.Text)
	case engine.StatusJig:
		if s.Text == "" {
			return "JIG"
		}
		return "JIG " + wire.Escape(s.Text)
	case engine.StatusScenario:
		if s.Text == "" {
			return "SCENARIO"
		}
		return "SCENARIO " + wire.Escape(s.Text)
	case engine.StatusScenarios:
		words := make([]string, 0, len(s.List)+1)
		words = append(words, "SCENARIOS")
		for _, n := range s.List {
			words = append(words, wire.Escape(n.ID))
		}
		return strings.Join(words, " ")
	case engine.StatusTests:
		words := []string{"TESTS", wire.Escape(s.Scenario.ID)}
		for _, n := range s.List {
			words = append(words, wire.Escape(n.ID))
		}
		return strings.Join(words, " ")
	case engine.StatusDescribe:
		return fmt.Sprintf("DESCRIBE %s %s %s %s",
			s.Unit.Kind, s.Field, s.Unit.ID, wire.Escape(s.Value))
	}
	return ""
}

func (i *Interface) writeStatusJSON(s engine.Status) error {
	names := func(list []unit.Name) []string {
		out := make([]string, 0, len(list))
		for _, n := range list {
			out = append(out, n.ID)
		}
		return out
	}
	msg := map[string]any{}
	switch s.Kind {
	case engine.StatusHello:
		msg["verb"], msg["server"] = "hello", s.Text
	case engine.StatusJig:
		msg["verb"], msg["jig"] = "jig", s.Text
	case engine.StatusScenario:
		msg["verb"], msg["scenario"] = "scenario", s.Text
	case engine.StatusScenarios:
		msg["verb"], msg["scenarios"] = "scenarios", names(s.List)
	case engine.StatusTests:
		msg["verb"], msg["scenario"], msg["tests"] = "tests", s.Scenario.ID, names(s.List)
	case engine.StatusDescribe:
		msg["verb"] = "describe"
		msg["type"], msg["field"], msg["item"], msg["value"] =
			string(s.Unit.Kind), s.Field, s.Unit.ID, s.Value
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return i.p.write(append(out, '\n'))
}

// pingLoop periodically pings the client and deactivates it when a pong does
// not come back in time.
func (i *Interface) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-i.p.done:
			return
		case <-ticker.C:
		}

		seq++
		id := strconv.Itoa(seq)
		if err := i.p.writeLine("PING " + id); err != nil {
			return
		}
		deadline := time.After(pongTimeout)
	waitPong:
		for {
			select {
			case got := <-i.pongs:
				if got == id {
					break waitPong
				}
			case <-deadline:
				i.bc.Publish(bus.NewLogError(i.unit.ID,
					fmt.Sprintf("no PONG %s within %s; deactivating", id, pongTimeout)))
				i.Stop()
				return
			case <-i.p.done:
				return
			}
		}
	}
}
