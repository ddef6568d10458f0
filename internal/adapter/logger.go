package adapter

import (
	"fmt"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/unit"
	"github.com/exclave/exclave/internal/wire"
)

// Logger feeds every broadcast record to a logger child's stdin in the
// unit's configured framing. A logger whose stdin write fails (its child
// died) is deactivated with an error record. A logger that stops reading
// only falls behind on its own bounded subscription, so it can never stall
// the bus.
type Logger struct {
	unit *unit.Logger
	bc   *bus.Broadcast
	sub  *bus.Subscriber
	p    *proc
}

// StartLogger spawns the logger child and begins streaming records to it.
func StartLogger(u *unit.Logger, bc *bus.Broadcast, dir string) (*Logger, error) {
	p, err := startProc(u.ExecStart, dir)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", u.ID, err)
	}

	l := &Logger{unit: u, bc: bc, sub: bc.Subscribe("logger:" + u.ID.ID), p: p}
	p.startReaders(
		func(line string) { bc.Publish(bus.NewLog(u.ID, line)) },
		func(line string) { bc.Publish(bus.NewLogError(u.ID, line)) },
	)
	go l.pump()
	return l, nil
}

func (l *Logger) pump() {
	for r := range l.sub.Records() {
		var err error
		switch l.unit.Format {
		case unit.JSONLines:
			var out []byte
			out, err = wire.EncodeJSON(r)
			if err == nil {
				err = l.p.write(out)
			}
		default:
			err = l.p.write([]byte(wire.EncodeTSV(r)))
		}
		if err != nil {
			l.bc.Unsubscribe(l.sub)
			l.bc.Publish(bus.NewLogError(l.unit.ID, fmt.Sprintf("logger write failed: %v", err)))
			return
		}
	}
}

// Stop detaches from the bus and terminates the child.
func (l *Logger) Stop() {
	l.bc.Unsubscribe(l.sub)
	l.p.stop()
}

// Done signals that the logger child has exited.
func (l *Logger) Done() <-chan struct{} {
	return l.p.done
}
