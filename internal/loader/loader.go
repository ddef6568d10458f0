// Package loader connects the config watcher to the library: it reads unit
// files as they appear, change, or vanish, and narrates the outcome onto the
// broadcast bus. Parse failures render a unit unusable but never crash the
// loader; a later edit can always repair it.
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/library"
	"github.com/exclave/exclave/internal/telemetry"
	"github.com/exclave/exclave/internal/unit"
	"github.com/exclave/exclave/internal/watcher"
)

// Loader owns every change to unit definitions in the library; the engine
// only changes selection state.
type Loader struct {
	Lib *library.Library
	Bc  *bus.Broadcast
	Tel *telemetry.Emitter
}

// New creates a loader.
func New(lib *library.Library, bc *bus.Broadcast, tel *telemetry.Emitter) *Loader {
	return &Loader{Lib: lib, Bc: bc, Tel: tel}
}

// Run consumes watcher events until the channel closes.
func (l *Loader) Run(events <-chan watcher.Event) {
	for ev := range events {
		l.Apply(ev)
	}
}

// Apply folds one filesystem event into the library.
func (l *Loader) Apply(ev watcher.Event) {
	switch ev.Kind {
	case watcher.Removed:
		l.Lib.Remove(ev.Name)
		l.Bc.Publish(bus.NewLog(ev.Name, "unit removed"))
		l.Tel.Emit(telemetry.Event{Kind: telemetry.KindUnitRemoved, Unit: ev.Name.String()})
		return
	case watcher.Added, watcher.Modified:
	default:
		return
	}

	contents, err := os.ReadFile(ev.Path)
	if err != nil {
		// Transient read failures happen mid-edit; the debounced watcher
		// will deliver another event when the file settles.
		l.Bc.Publish(bus.NewLogError(ev.Name, fmt.Sprintf("unable to read %s: %v", ev.Path, err)))
		return
	}

	res, err := l.Lib.Upsert(ev.Path, contents)
	if err != nil {
		l.Bc.Publish(bus.NewLogError(ev.Name, fmt.Sprintf("load failed: %v", err)))
		l.Tel.Emit(telemetry.Event{Kind: telemetry.KindUnitFailed, Unit: ev.Name.String(), Data: err.Error()})
		return
	}
	for _, w := range res.Warnings {
		l.Bc.Publish(bus.NewLog(ev.Name, "warning: "+w))
	}
	if res.Queued {
		l.Bc.Publish(bus.NewLog(ev.Name, "unit redefined while in use; queued for next selection"))
		return
	}
	l.Bc.Publish(bus.NewLog(ev.Name, "unit loaded"))
	l.Tel.Emit(telemetry.Event{Kind: telemetry.KindUnitLoaded, Unit: ev.Name.String()})
}

// LoadDir performs the one-shot startup walk without a watcher, for the
// offline plan command.
func (l *Loader) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		name, err := unit.NameFromPath(path)
		if err != nil {
			continue
		}
		l.Apply(watcher.Event{Kind: watcher.Added, Path: path, Name: name})
	}
	return nil
}
