package unit

import (
	"fmt"
	"path/filepath"
)

// Envelope carries the fields shared by every unit kind, plus the warning
// and unknown-key side-tables produced while decoding.
type Envelope struct {
	ID          Name
	Name        string
	Description string

	// Jigs is an optional whitelist of compatible jigs. Empty means the
	// unit is compatible with every jig (and with no-jig mode).
	Jigs []Name

	// WorkingDirectory is where the unit's programs run from, if set.
	WorkingDirectory string

	// UnitDir is the directory containing the unit file.
	UnitDir string

	// Unknown holds keys the decoder did not recognize. They are preserved
	// for forward compatibility and reported as warnings, never errors.
	Unknown map[string]string

	Warnings []string
}

// UnitName returns the unit's identity.
func (e *Envelope) UnitName() Name { return e.ID }

// Meta returns the shared envelope; it lets callers reach common fields
// through the Unit interface.
func (e *Envelope) Meta() *Envelope { return e }

// CompatibleWith reports whether the unit may be used with the given jig.
// An empty whitelist matches everything; a non-empty whitelist requires the
// jig to be listed (and never matches the zero Name of no-jig mode).
func (e *Envelope) CompatibleWith(jig Name) bool {
	if len(e.Jigs) == 0 {
		return true
	}
	for _, j := range e.Jigs {
		if j == jig {
			return true
		}
	}
	return false
}

// Unit is the common face of all eight unit kinds.
type Unit interface {
	UnitName() Name
	Meta() *Envelope
}

// Parse decodes unit file contents into the kind selected by the path's
// suffix.
func Parse(path string, contents []byte) (Unit, error) {
	name, err := NameFromPath(path)
	if err != nil {
		return nil, err
	}
	switch name.Kind {
	case KindTest:
		return ParseTest(path, contents)
	case KindJig:
		return ParseJig(path, contents)
	case KindScenario:
		return ParseScenario(path, contents)
	case KindTrigger:
		return ParseTrigger(path, contents)
	case KindLogger:
		return ParseLogger(path, contents)
	case KindInterface:
		return ParseInterface(path, contents)
	case KindCoupon:
		return ParseCoupon(path, contents)
	case KindUpdater:
		return ParseUpdater(path, contents)
	}
	return nil, fmt.Errorf("unit %q: unhandled kind %q", path, name.Kind)
}

// newEnvelope builds the envelope for a unit file and locates its canonical
// section, rejecting any other section in the file.
func newEnvelope(f *File, section string) (*Envelope, *Section, error) {
	sec, err := f.requireOnlySection(section)
	if err != nil {
		return nil, nil, err
	}
	name, err := NameFromPath(f.Path)
	if err != nil {
		return nil, nil, err
	}
	env := &Envelope{
		ID:       name,
		UnitDir:  filepath.Dir(f.Path),
		Unknown:  make(map[string]string),
		Warnings: append([]string(nil), f.Warnings...),
	}
	return env, sec, nil
}

// applyKeys walks the section's keys in declaration order, feeding each value
// to the shared envelope handler or the kind-specific handler. Keys neither
// recognizes land in the unknown side-table with a warning.
func applyKeys(f *File, sec *Section, env *Envelope, kindKeys map[string]func(string) error) error {
	common := map[string]func(string) error{
		"Name": func(v string) error {
			env.Name = v
			return nil
		},
		"Description": func(v string) error {
			env.Description = v
			return nil
		},
		"Jigs": func(v string) error {
			jigs, err := ParseNameList(v, KindJig)
			if err != nil {
				return err
			}
			env.Jigs = jigs
			return nil
		},
		"WorkingDirectory": func(v string) error {
			env.WorkingDirectory = v
			return nil
		},
	}

	for _, key := range sec.Keys() {
		value, _ := sec.Get(key)
		handler := kindKeys[key]
		if handler == nil {
			handler = common[key]
		}
		if handler == nil {
			env.Unknown[key] = value
			env.Warnings = append(env.Warnings,
				fmt.Sprintf("%s: unknown key %q in section [%s]", f.Path, key, sec.Name))
			continue
		}
		if err := handler(value); err != nil {
			return &ParseError{File: f.Path, Line: sec.values[key].line,
				Reason: fmt.Sprintf("key %q: %v", key, err)}
		}
	}
	return nil
}
