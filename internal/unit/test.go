package unit

import (
	"fmt"
	"regexp"
	"time"
)

// TestType selects the exit semantics of a test child.
type TestType int

const (
	// Simple tests report pass/fail through their exit code.
	Simple TestType = iota

	// Daemon tests keep running in the background; readiness is signaled
	// by a stdout marker, and an early exit is a failure.
	Daemon
)

func (t TestType) String() string {
	if t == Daemon {
		return "daemon"
	}
	return "simple"
}

// Test is the in-memory form of a .test file.
type Test struct {
	Envelope

	// Requires lists tests that must pass before this one runs.
	Requires []Name

	// Suggests lists tests that should be attempted first, though this
	// test still runs if they fail.
	Suggests []Name

	// Provides lists virtual names satisfied by this test. It always
	// includes the test's own name.
	Provides []Name

	// Timeout bounds a simple test's wall clock, or a daemon's readiness
	// wait. Zero means unbounded.
	Timeout time.Duration

	// StopSuccessTimeout and StopFailTimeout bound the respective stop
	// hooks; zero falls back to Timeout.
	StopSuccessTimeout time.Duration
	StopFailTimeout    time.Duration

	Type TestType

	// DaemonReady, when set, must match a stdout line before a daemon is
	// considered ready. Nil means ready immediately after spawn.
	DaemonReady *regexp.Regexp

	ExecStart       string
	ExecStop        string
	ExecStopSuccess string
	ExecStopFail    string
}

// StopCommand returns the hook to run once the test reaches the given
// outcome: the success or failure variant when set, else ExecStop.
func (t *Test) StopCommand(passed bool) string {
	if passed && t.ExecStopSuccess != "" {
		return t.ExecStopSuccess
	}
	if !passed && t.ExecStopFail != "" {
		return t.ExecStopFail
	}
	return t.ExecStop
}

// StopTimeout returns the bound for the given outcome's stop hook,
// defaulting to the test's own timeout.
func (t *Test) StopTimeout(passed bool) time.Duration {
	if passed && t.StopSuccessTimeout > 0 {
		return t.StopSuccessTimeout
	}
	if !passed && t.StopFailTimeout > 0 {
		return t.StopFailTimeout
	}
	return t.Timeout
}

// ParseTest decodes a .test file.
func ParseTest(path string, contents []byte) (*Test, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Test")
	if err != nil {
		return nil, err
	}

	t := &Test{Envelope: *env}
	keys := map[string]func(string) error{
		"Requires": func(v string) error {
			t.Requires, err = ParseNameList(v, KindTest)
			return err
		},
		"Suggests": func(v string) error {
			t.Suggests, err = ParseNameList(v, KindTest)
			return err
		},
		"Provides": func(v string) error {
			t.Provides, err = ParseNameList(v, KindTest)
			return err
		},
		"Timeout": func(v string) error {
			t.Timeout, err = parseTimeout(v)
			return err
		},
		"ExecStopSuccessTimeout": func(v string) error {
			t.StopSuccessTimeout, err = parseTimeout(v)
			return err
		},
		"ExecStopFailTimeout": func(v string) error {
			t.StopFailTimeout, err = parseTimeout(v)
			return err
		},
		"Type": func(v string) error {
			switch v {
			case "simple", "Simple":
				t.Type = Simple
			case "daemon", "Daemon":
				t.Type = Daemon
			default:
				return fmt.Errorf("invalid value %q, must be one of: simple, daemon", v)
			}
			return nil
		},
		"DaemonReadyText": func(v string) error {
			if v == "" {
				return nil
			}
			re, err := regexp.Compile(v)
			if err != nil {
				return fmt.Errorf("invalid ready text: %v", err)
			}
			t.DaemonReady = re
			return nil
		},
		"ExecStart": func(v string) error {
			t.ExecStart = v
			return nil
		},
		"ExecStop": func(v string) error {
			t.ExecStop = v
			return nil
		},
		"ExecStopSuccess": func(v string) error {
			t.ExecStopSuccess = v
			return nil
		},
		"ExecStopFail": func(v string) error {
			t.ExecStopFail = v
			return nil
		},
	}
	if err := applyKeys(f, sec, &t.Envelope, keys); err != nil {
		return nil, err
	}
	if t.ExecStart == "" {
		return nil, &ParseError{File: path, Reason: "key \"ExecStart\" in section [Test] requires a value"}
	}

	// A test always provides its own name, so direct references and
	// Provides references resolve the same way.
	t.Provides = append(t.Provides, t.ID)
	return t, nil
}
