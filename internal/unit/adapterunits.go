package unit

import "fmt"

// LogFormat selects the framing a logger child receives on stdin.
type LogFormat int

const (
	// TSV is the tab-separated record framing.
	TSV LogFormat = iota

	// JSONLines is one JSON object per line.
	JSONLines
)

func (f LogFormat) String() string {
	if f == JSONLines {
		return "json"
	}
	return "tsv"
}

// InterfaceFormat selects the protocol an interface child speaks.
type InterfaceFormat int

const (
	// TextVerbs is the line-oriented verb protocol.
	TextVerbs InterfaceFormat = iota

	// JSONVerbs frames each protocol message as a JSON object per line.
	JSONVerbs
)

func (f InterfaceFormat) String() string {
	if f == JSONVerbs {
		return "json"
	}
	return "text"
}

// Logger is the in-memory form of a .logger file. The child process receives
// every broadcast record on stdin in its configured framing.
type Logger struct {
	Envelope

	ExecStart string
	Format    LogFormat
}

// ParseLogger decodes a .logger file.
func ParseLogger(path string, contents []byte) (*Logger, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Logger")
	if err != nil {
		return nil, err
	}

	l := &Logger{Envelope: *env}
	keys := map[string]func(string) error{
		"ExecStart": func(v string) error {
			l.ExecStart = v
			return nil
		},
		"Format": func(v string) error {
			switch v {
			case "tsv", "TSV":
				l.Format = TSV
			case "json", "JSON":
				l.Format = JSONLines
			default:
				return fmt.Errorf("invalid value %q, must be one of: tsv, json", v)
			}
			return nil
		},
	}
	if err := applyKeys(f, sec, &l.Envelope, keys); err != nil {
		return nil, err
	}
	if l.ExecStart == "" {
		return nil, &ParseError{File: path, Reason: "key \"ExecStart\" in section [Logger] requires a value"}
	}
	return l, nil
}

// Interface is the in-memory form of a .interface file: a bidirectional
// frontend child that consumes broadcast records and issues commands.
type Interface struct {
	Envelope

	ExecStart string
	Format    InterfaceFormat
}

// ParseInterface decodes a .interface file.
func ParseInterface(path string, contents []byte) (*Interface, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Interface")
	if err != nil {
		return nil, err
	}

	i := &Interface{Envelope: *env}
	keys := map[string]func(string) error{
		"ExecStart": func(v string) error {
			i.ExecStart = v
			return nil
		},
		"Format": func(v string) error {
			switch v {
			case "text", "Text":
				i.Format = TextVerbs
			case "json", "JSON":
				i.Format = JSONVerbs
			default:
				return fmt.Errorf("invalid value %q, must be one of: text, json", v)
			}
			return nil
		},
	}
	if err := applyKeys(f, sec, &i.Envelope, keys); err != nil {
		return nil, err
	}
	if i.ExecStart == "" {
		return nil, &ParseError{File: path, Reason: "key \"ExecStart\" in section [Interface] requires a value"}
	}
	return i, nil
}

// Trigger is the in-memory form of a .trigger file: an outbound-only child
// whose stdout lines start and stop scenarios.
type Trigger struct {
	Envelope

	ExecStart string
}

// ParseTrigger decodes a .trigger file.
func ParseTrigger(path string, contents []byte) (*Trigger, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Trigger")
	if err != nil {
		return nil, err
	}

	t := &Trigger{Envelope: *env}
	keys := map[string]func(string) error{
		"ExecStart": func(v string) error {
			t.ExecStart = v
			return nil
		},
	}
	if err := applyKeys(f, sec, &t.Envelope, keys); err != nil {
		return nil, err
	}
	if t.ExecStart == "" {
		return nil, &ParseError{File: path, Reason: "key \"ExecStart\" in section [Trigger] requires a value"}
	}
	return t, nil
}
