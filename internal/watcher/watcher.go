// Package watcher discovers unit files in the config directories and turns
// filesystem activity into unit events. Bursts of writes to the same path
// collapse into a single event per debounce window.
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/exclave/exclave/internal/unit"
)

// EventKind describes the type of file change detected.
type EventKind int

const (
	Added    EventKind = iota // a new unit file appeared
	Modified                  // an existing unit file changed
	Removed                   // a unit file went away
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is one detected change to a unit file.
type Event struct {
	Kind EventKind
	Path string
	Name unit.Name
}

// debounce is the window within which repeated events on one path collapse.
const debounce = 100 * time.Millisecond

// Watcher monitors config directories for unit file changes.
type Watcher struct {
	Events <-chan Event // read-only external channel

	events  chan Event
	done    chan struct{}
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	known map[string]bool // paths we have announced as present
}

// New creates a watcher. Call AddDir for each config directory, then Start.
func New() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan Event, 64)
	return &Watcher{
		Events:  ch,
		events:  ch,
		done:    make(chan struct{}),
		watcher: fw,
		known:   make(map[string]bool),
	}, nil
}

// AddDir walks the directory once and subscribes to change notifications for
// it. The walk's Added events are returned directly rather than channeled,
// so a large config directory cannot stall startup.
func (w *Watcher) AddDir(dir string) ([]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var initial []Event
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		name, err := unit.NameFromPath(path)
		if err != nil {
			continue // not a unit file
		}
		w.mu.Lock()
		w.known[path] = true
		w.mu.Unlock()
		initial = append(initial, Event{Kind: Added, Path: path, Name: name})
	}
	return initial, w.watcher.Add(dir)
}

// Start begins delivering change events.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop closes the watcher and the event channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // wait for loop to exit
	close(w.events)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Track the last event time per path; a ticker flushes entries that
	// have been quiet for a full debounce window.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				for path := range pending {
					w.emit(path)
				}
				return
			}
			if _, err := unit.NameFromPath(event.Name); err != nil {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = time.Now()
			}

		case _, ok := <-ticker.C:
			if !ok {
				return
			}
			now := time.Now()
			for path, at := range pending {
				if now.Sub(at) >= debounce {
					w.emit(path)
					delete(pending, path)
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal; the startup walk already
			// delivered the initial population.
		}
	}
}

// emit classifies a settled path change by comparing the filesystem with
// what we have announced before.
func (w *Watcher) emit(path string) {
	name, err := unit.NameFromPath(path)
	if err != nil {
		return
	}

	_, statErr := os.Stat(path)
	w.mu.Lock()
	wasKnown := w.known[path]
	var kind EventKind
	switch {
	case statErr != nil && !wasKnown:
		w.mu.Unlock()
		return // created and removed within one window
	case statErr != nil:
		delete(w.known, path)
		kind = Removed
	case wasKnown:
		kind = Modified
	default:
		w.known[path] = true
		kind = Added
	}
	w.mu.Unlock()

	w.events <- Event{Kind: kind, Path: path, Name: name}
}
