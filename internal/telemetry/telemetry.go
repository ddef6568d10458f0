// Package telemetry provides a JSONL event stream for recording what an
// Exclave process did: unit loads, jig detection, scenario state changes,
// and test outcomes. It backs the --debug-log flag, making runs auditable
// and replayable.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds identify the type of telemetry event.
const (
	KindUnitLoaded       = "unit_loaded"
	KindUnitFailed       = "unit_failed"
	KindUnitRemoved      = "unit_removed"
	KindJigSelected      = "jig_selected"
	KindScenarioSelected = "scenario_selected"
	KindScenarioStart    = "scenario_start"
	KindScenarioFinish   = "scenario_finish"
	KindTestState        = "test_state"
	KindRecord           = "record"
	KindShutdown         = "shutdown"
)

// Event represents a single telemetry record. Each event carries a
// timestamp, a kind tag, the run it belongs to, and optional context.
type Event struct {
	Timestamp time.Time `json:"ts"`
	RunID     string    `json:"run,omitempty"`
	Kind      string    `json:"kind"`
	Unit      string    `json:"unit,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Emitter writes telemetry events to a JSONL file. It is safe for concurrent
// use by multiple goroutines. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	file  *os.File
	enc   *json.Encoder
	runID string
	mu    sync.Mutex
}

// NewEmitter creates an Emitter appending JSONL events to the file at path.
// Every event it writes is stamped with a fresh per-process run ID.
func NewEmitter(path string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file:  f,
		enc:   json.NewEncoder(f),
		runID: uuid.NewString(),
	}, nil
}

// RunID returns the per-process run identifier, or "" on a nil emitter.
func (e *Emitter) RunID() string {
	if e == nil {
		return ""
	}
	return e.runID
}

// Emit writes a single event, stamping the timestamp and run ID if unset.
// Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.RunID == "" {
		evt.RunID = e.runID
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Calling Close on a nil
// Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}
