package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewEmitter_CreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	em, err := NewEmitter(path)
	if err != nil {
		t.Fatalf("NewEmitter(%q): %v", path, err)
	}
	defer em.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist at %q: %v", path, err)
	}
	if em.RunID() == "" {
		t.Error("RunID should be set")
	}
}

func TestNewEmitter_ErrorOnBadPath(t *testing.T) {
	t.Parallel()
	_, err := NewEmitter("/nonexistent/dir/events.jsonl")
	if err == nil {
		t.Fatal("expected error for bad path, got nil")
	}
	if !strings.Contains(err.Error(), "telemetry: open") {
		t.Errorf("expected wrapped error, got: %v", err)
	}
}

func TestEmit_StampsRunAndTime(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	em, err := NewEmitter(path)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	if err := em.Emit(Event{Kind: KindTestState, Unit: "led.test", Data: "pass"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	em.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var evt map[string]any
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("not valid JSONL: %v", err)
	}
	if evt["kind"] != KindTestState || evt["unit"] != "led.test" {
		t.Errorf("event = %v", evt)
	}
	if evt["run"] != em.RunID() {
		t.Errorf("run = %v, want %v", evt["run"], em.RunID())
	}
	if evt["ts"] == nil {
		t.Error("timestamp missing")
	}
}

func TestEmit_NilEmitterIsNoop(t *testing.T) {
	t.Parallel()
	var em *Emitter
	if err := em.Emit(Event{Kind: KindShutdown}); err != nil {
		t.Errorf("nil emitter Emit: %v", err)
	}
	if err := em.Close(); err != nil {
		t.Errorf("nil emitter Close: %v", err)
	}
	if em.RunID() != "" {
		t.Error("nil emitter RunID should be empty")
	}
}

func TestEmit_ConcurrentWritesStayLineFramed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	em, err := NewEmitter(path)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				em.Emit(Event{Kind: KindRecord, Data: "line"})
			}
		}()
	}
	wg.Wait()
	em.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var evt map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", count, err)
		}
		count++
	}
	if count != 400 {
		t.Errorf("got %d events, want 400", count)
	}
}
