// Package unit defines the typed identifiers, the ini-style file parser, and
// the per-kind descriptions that make up Exclave's configuration model. A unit
// is the in-memory form of one file in the config directory; its kind is
// selected by the filename suffix.
package unit

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies one of the unit types Exclave understands.
type Kind string

const (
	KindTest      Kind = "test"
	KindJig       Kind = "jig"
	KindScenario  Kind = "scenario"
	KindTrigger   Kind = "trigger"
	KindLogger    Kind = "logger"
	KindInterface Kind = "interface"
	KindCoupon    Kind = "coupon"
	KindUpdater   Kind = "updater"

	// KindInternal tags records generated by Exclave itself rather than by
	// any unit file.
	KindInternal Kind = "internal"
)

// Kinds lists every file-backed kind in suffix-dispatch order.
var Kinds = []Kind{
	KindTest, KindJig, KindScenario, KindTrigger,
	KindLogger, KindInterface, KindCoupon, KindUpdater,
}

// kindsBySuffix maps a filename extension (without dot) to its kind.
var kindsBySuffix = func() map[string]Kind {
	m := make(map[string]Kind, len(Kinds))
	for _, k := range Kinds {
		m[string(k)] = k
	}
	return m
}()

// Name is the identity of a unit: a short ID plus its kind. Two units of
// different kinds may share an ID.
type Name struct {
	ID   string
	Kind Kind
}

// Internal returns a Name for an Exclave-generated source such as "main".
func Internal(id string) Name {
	return Name{ID: id, Kind: KindInternal}
}

// String renders the name in "id.kind" form, matching the on-disk filename.
func (n Name) String() string {
	return n.ID + "." + string(n.Kind)
}

// IsZero reports whether the name is unset.
func (n Name) IsZero() bool {
	return n.ID == "" && n.Kind == ""
}

// NameFromPath derives a unit name from a config file path. The extension
// selects the kind; an unrecognized or missing extension is an error.
func NameFromPath(path string) (Name, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return Name{}, fmt.Errorf("unit %q: no file extension", filepath.Base(path))
	}
	kind, ok := kindsBySuffix[ext]
	if !ok {
		return Name{}, fmt.Errorf("unit %q: unrecognized unit type %q", filepath.Base(path), "."+ext)
	}
	stem := strings.TrimSuffix(filepath.Base(path), "."+ext)
	if stem == "" {
		return Name{}, fmt.Errorf("unit %q: empty unit name", filepath.Base(path))
	}
	return Name{ID: stem, Kind: kind}, nil
}

// ParseName parses a unit reference. If the reference carries a recognized
// kind suffix it is used; otherwise defaultKind applies, so "swd" inside a
// Requires= list becomes "swd.test".
func ParseName(s string, defaultKind Kind) (Name, error) {
	if s == "" {
		return Name{}, fmt.Errorf("empty unit reference")
	}
	if i := strings.LastIndexByte(s, '.'); i > 0 {
		if kind, ok := kindsBySuffix[s[i+1:]]; ok {
			return Name{ID: s[:i], Kind: kind}, nil
		}
	}
	return Name{ID: s, Kind: defaultKind}, nil
}

// ParseNameList splits a comma- or whitespace-separated list of references,
// applying defaultKind to suffix-less entries. Empty elements are dropped.
func ParseNameList(s string, defaultKind Kind) ([]Name, error) {
	var out []Name
	for _, tok := range splitList(s) {
		name, err := ParseName(tok, defaultKind)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// splitList splits on commas and whitespace, dropping empty elements.
func splitList(s string) []string {
	var out []string
	for _, chunk := range strings.Split(s, ",") {
		out = append(out, strings.Fields(chunk)...)
	}
	return out
}
