package adapter

import (
	"fmt"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/unit"
	"github.com/exclave/exclave/internal/wire"
)

// Updater runs one updater child: a long-lived process that watches for new
// firmware or configuration images. When it has staged an update it asks
// Exclave to shut down so the parent supervisor restarts onto the new image.
type Updater struct {
	unit *unit.Updater
	bc   *bus.Broadcast
	ctl  *bus.Control
	p    *proc
}

// StartUpdater loads the updater's manifest (if any), spawns the child, and
// begins relaying its requests.
func StartUpdater(u *unit.Updater, bc *bus.Broadcast, ctl *bus.Control, dir string) (*Updater, error) {
	manifest, err := u.LoadManifest()
	if err != nil {
		return nil, err
	}
	p, err := startProc(u.ExecStart, dir)
	if err != nil {
		return nil, fmt.Errorf("updater %s: %w", u.ID, err)
	}

	up := &Updater{unit: u, bc: bc, ctl: ctl, p: p}
	if manifest != nil {
		for _, a := range manifest.Artifacts {
			bc.Publish(bus.NewLog(u.ID,
				fmt.Sprintf("managing artifact %s %s (%s)", a.Name, a.Version, a.Path)))
		}
	}
	p.startReaders(up.handleLine,
		func(line string) { bc.Publish(bus.NewLogError(u.ID, line)) })
	return up, nil
}

// handleLine parses the updater protocol: LOG <msg> and SHUTDOWN <reason>.
// Anything else is forwarded as a log line.
func (u *Updater) handleLine(raw string) {
	line := wire.ParseLine(raw)
	src := u.unit.ID
	switch line.Verb {
	case "":
	case "log":
		u.ctl.Send(bus.Command{Source: src, Op: bus.OpLog, Text: line.Rest()})
	case "shutdown":
		u.ctl.Send(bus.Command{Source: src, Op: bus.OpShutdown, Text: line.Rest()})
	default:
		u.bc.Publish(bus.NewLog(src, raw))
	}
}

// Stop terminates the updater child.
func (u *Updater) Stop() {
	u.p.stop()
}

// Done signals that the updater child has exited.
func (u *Updater) Done() <-chan struct{} {
	return u.p.done
}
