// Package library is the typed store of every unit Exclave knows about.
// Units arrive from the config watcher as raw file contents, are parsed on
// insertion, and are handed out to the resolver and engine by reference.
// Insertion order within each kind is preserved, which makes enumeration —
// and therefore jig detection and Provides tie-breaking — stable.
package library

import (
	"errors"
	"fmt"
	"sync"

	"github.com/exclave/exclave/internal/unit"
)

// State describes one library entry.
type State int

const (
	// StateLoaded means the unit parsed successfully and may be selected.
	StateLoaded State = iota

	// StateSelected means the unit is currently in use. At most one jig
	// is Selected at a time.
	StateSelected

	// StateFailed means the unit's file could not be parsed; Reason says
	// why. The entry stays so the failure remains visible.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateSelected:
		return "selected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotFound is returned when a named unit is absent from the library.
var ErrNotFound = errors.New("unit not found")

// UnsatisfiedError reports a reference that could not be resolved against
// the current library and jig.
type UnsatisfiedError struct {
	Missing unit.Name
}

func (e *UnsatisfiedError) Error() string {
	return fmt.Sprintf("requirement %q not found", e.Missing)
}

// Entry is a snapshot of one stored unit.
type Entry struct {
	Name   unit.Name
	State  State
	Unit   unit.Unit // nil when State == StateFailed
	Reason string    // failure reason, when failed

	// pending is a reparsed definition queued while the unit was
	// Selected; it is promoted at the next Select.
	pending unit.Unit
}

// UpsertResult reports what an Upsert did.
type UpsertResult struct {
	Name unit.Name

	// Queued is true when the unit was Selected and the new definition
	// was deferred to the next Select instead of replacing it in place.
	Queued bool

	// Warnings carries the parse-time warnings of the new definition.
	Warnings []string
}

type kindTable struct {
	order   []string
	entries map[string]*Entry
}

// Library is safe for concurrent use. All mutation goes through Upsert,
// Remove, Select, and Deselect; readers get copies or shared immutable units.
type Library struct {
	mu     sync.Mutex
	byKind map[unit.Kind]*kindTable
	selJig unit.Name // the currently selected jig, if any
}

// New creates an empty library.
func New() *Library {
	return &Library{byKind: make(map[unit.Kind]*kindTable)}
}

func (l *Library) table(kind unit.Kind) *kindTable {
	t := l.byKind[kind]
	if t == nil {
		t = &kindTable{entries: make(map[string]*Entry)}
		l.byKind[kind] = t
	}
	return t
}

// Upsert parses the unit file contents and inserts or replaces the entry for
// its name. A parse failure stores a Failed entry and returns the error. If
// the unit is currently Selected, the new definition is queued for the next
// Select instead of replacing the live one.
func (l *Library) Upsert(path string, contents []byte) (UpsertResult, error) {
	name, err := unit.NameFromPath(path)
	if err != nil {
		return UpsertResult{}, err
	}

	parsed, err := unit.Parse(path, contents)

	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.table(name.Kind)
	e := t.entries[name.ID]
	if e == nil {
		e = &Entry{Name: name}
		t.entries[name.ID] = e
		t.order = append(t.order, name.ID)
	}

	if err != nil {
		// A live Selected unit keeps running; the failure only poisons
		// future selections.
		if e.State != StateSelected {
			e.State = StateFailed
			e.Unit = nil
		}
		e.pending = nil
		e.Reason = err.Error()
		return UpsertResult{Name: name}, err
	}

	res := UpsertResult{Name: name, Warnings: parsed.Meta().Warnings}
	if e.State == StateSelected {
		e.pending = parsed
		res.Queued = true
		return res, nil
	}
	e.State = StateLoaded
	e.Unit = parsed
	e.Reason = ""
	e.pending = nil
	return res, nil
}

// Remove deletes the entry for name. A selected jig is deselected first.
func (l *Library) Remove(name unit.Name) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.byKind[name.Kind]
	if t == nil {
		return
	}
	if _, ok := t.entries[name.ID]; !ok {
		return
	}
	delete(t.entries, name.ID)
	for i, id := range t.order {
		if id == name.ID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if l.selJig == name {
		l.selJig = unit.Name{}
	}
}

// Get returns a snapshot of the entry for name.
func (l *Library) Get(name unit.Name) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.byKind[name.Kind]
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[name.ID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Enumerate returns the names of every entry of the kind, in insertion order.
func (l *Library) Enumerate(kind unit.Kind) []unit.Name {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.byKind[kind]
	if t == nil {
		return nil
	}
	out := make([]unit.Name, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, unit.Name{ID: id, Kind: kind})
	}
	return out
}

// Units returns every parseable unit of the kind in insertion order,
// skipping failed entries.
func (l *Library) Units(kind unit.Kind) []unit.Unit {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.byKind[kind]
	if t == nil {
		return nil
	}
	out := make([]unit.Unit, 0, len(t.order))
	for _, id := range t.order {
		if e := t.entries[id]; e.Unit != nil {
			out = append(out, e.Unit)
		}
	}
	return out
}

// Select marks the unit as in use and returns its definition, promoting any
// queued redefinition first. Selecting an already-selected unit with no
// pending update is a no-op. Selecting a jig deselects the previous one:
// there can only be one.
func (l *Library) Select(name unit.Name) (unit.Unit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.byKind[name.Kind]
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	e, ok := t.entries[name.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if e.State == StateFailed {
		return nil, fmt.Errorf("unit %s failed to load: %s", name, e.Reason)
	}
	if e.pending != nil {
		e.Unit = e.pending
		e.pending = nil
	}
	if name.Kind == unit.KindJig && !l.selJig.IsZero() && l.selJig != name {
		if prev := l.byKind[unit.KindJig].entries[l.selJig.ID]; prev != nil && prev.State == StateSelected {
			prev.State = StateLoaded
		}
	}
	e.State = StateSelected
	if name.Kind == unit.KindJig {
		l.selJig = name
	}
	return e.Unit, nil
}

// Deselect returns the unit to the Loaded state.
func (l *Library) Deselect(name unit.Name) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.byKind[name.Kind]
	if t == nil {
		return
	}
	e, ok := t.entries[name.ID]
	if !ok || e.State != StateSelected {
		return
	}
	e.State = StateLoaded
	if l.selJig == name {
		l.selJig = unit.Name{}
	}
}

// SelectedJig returns the active jig's name, if one is selected.
func (l *Library) SelectedJig() (unit.Name, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selJig, !l.selJig.IsZero()
}

// ResolveReference resolves a dependency token against the library. A direct
// (kind, name) match wins if that unit is jig-compatible; otherwise the tests
// are scanned in insertion order for a jig-compatible provider of the virtual
// name. activeJig may be the zero Name for no-jig mode.
func (l *Library) ResolveReference(token unit.Name, activeJig unit.Name) (unit.Name, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t := l.byKind[token.Kind]; t != nil {
		if e, ok := t.entries[token.ID]; ok && e.Unit != nil && e.Unit.Meta().CompatibleWith(activeJig) {
			return token, nil
		}
	}

	// Provides substitution only applies to test references.
	if token.Kind == unit.KindTest {
		if t := l.byKind[unit.KindTest]; t != nil {
			for _, id := range t.order {
				e := t.entries[id]
				if e.Unit == nil {
					continue
				}
				test, ok := e.Unit.(*unit.Test)
				if !ok || !test.CompatibleWith(activeJig) {
					continue
				}
				for _, p := range test.Provides {
					if p == token {
						return test.ID, nil
					}
				}
			}
		}
	}

	return unit.Name{}, &UnsatisfiedError{Missing: token}
}
