package unit

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Updater is the in-memory form of a .updater file: a long-lived child that
// watches for firmware or configuration updates and may ask Exclave to shut
// down so its parent supervisor restarts it onto the new image.
type Updater struct {
	Envelope

	ExecStart string

	// Manifest optionally points at a TOML file describing the artifacts
	// this updater manages.
	Manifest string
}

// Artifact is one entry in an update manifest.
type Artifact struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Path    string `toml:"path"`
}

// UpdateManifest is the parsed form of an updater's Manifest file.
type UpdateManifest struct {
	Artifacts []Artifact `toml:"artifact"`
}

// LoadManifest reads and parses the updater's manifest. Returns nil when no
// manifest is configured.
func (u *Updater) LoadManifest() (*UpdateManifest, error) {
	if u.Manifest == "" {
		return nil, nil
	}
	data, err := os.ReadFile(u.Manifest)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", u.Manifest, err)
	}
	var m UpdateManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", u.Manifest, err)
	}
	return &m, nil
}

// ParseUpdater decodes a .updater file.
func ParseUpdater(path string, contents []byte) (*Updater, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Updater")
	if err != nil {
		return nil, err
	}

	u := &Updater{Envelope: *env}
	keys := map[string]func(string) error{
		"ExecStart": func(v string) error {
			u.ExecStart = v
			return nil
		},
		"Manifest": func(v string) error {
			u.Manifest = v
			return nil
		},
	}
	if err := applyKeys(f, sec, &u.Envelope, keys); err != nil {
		return nil, err
	}
	if u.ExecStart == "" {
		return nil, &ParseError{File: path, Reason: "key \"ExecStart\" in section [Updater] requires a value"}
	}
	return u, nil
}
