package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exclave/exclave/internal/unit"
)

// waitFor reads events until one matches the predicate or the deadline hits.
func waitFor(t *testing.T, w *Watcher, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestWatcher_InitialWalk(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "led.test"), []byte("[Test]\nExecStart=true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Files without a unit suffix are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	initial, err := w.AddDir(dir)
	if err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	w.Start()
	defer w.Stop()

	if len(initial) != 1 {
		t.Fatalf("initial events = %v, want the unit file only", initial)
	}
	if initial[0].Kind != Added || initial[0].Name != (unit.Name{ID: "led", Kind: unit.KindTest}) {
		t.Errorf("initial event = %+v", initial[0])
	}
}

func TestWatcher_AddModifyRemove(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.AddDir(dir); err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	w.Start()
	defer w.Stop()

	path := filepath.Join(dir, "button.test")
	if err := os.WriteFile(path, []byte("[Test]\nExecStart=a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, "Added", func(e Event) bool { return e.Kind == Added && e.Path == path })

	if err := os.WriteFile(path, []byte("[Test]\nExecStart=b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, "Modified", func(e Event) bool { return e.Kind == Modified && e.Path == path })

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, w, "Removed", func(e Event) bool { return e.Kind == Removed && e.Path == path })
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.AddDir(dir); err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	w.Start()
	defer w.Stop()

	// A burst of writes inside one debounce window settles to one event.
	path := filepath.Join(dir, "burst.test")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("[Test]\nExecStart=x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, w, "settled event", func(e Event) bool { return e.Path == path })

	// After the window, no further events should be pending for the path.
	select {
	case ev := <-w.Events:
		if ev.Path == path {
			t.Errorf("burst produced a second event: %+v", ev)
		}
	case <-time.After(300 * time.Millisecond):
	}
}
