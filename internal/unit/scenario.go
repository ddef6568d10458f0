package unit

import "time"

// Scenario is the in-memory form of a .scenario file: an ordered list of
// goal tests plus lifecycle hooks.
type Scenario struct {
	Envelope

	// Tests lists the goal tests, in the order the operator wants them.
	Tests []Name

	// Assume lists tests treated as already passed; they are never
	// spawned, but what they provide counts as satisfied.
	Assume []Name

	// Timeout bounds the whole run. Zero means unbounded.
	Timeout time.Duration

	ExecStart        string
	ExecStartTimeout time.Duration

	ExecStopSuccess    string
	StopSuccessTimeout time.Duration
	ExecStopFail       string
	StopFailTimeout    time.Duration
}

// ParseScenario decodes a .scenario file. A bare ExecStop (and
// ExecStopTimeout) acts as the default for both the success and failure
// variants when those are not given.
func ParseScenario(path string, contents []byte) (*Scenario, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Scenario")
	if err != nil {
		return nil, err
	}

	s := &Scenario{Envelope: *env}
	var execStop string
	var execStopTimeout time.Duration
	keys := map[string]func(string) error{
		"Tests": func(v string) error {
			s.Tests, err = ParseNameList(v, KindTest)
			return err
		},
		"Assume": func(v string) error {
			s.Assume, err = ParseNameList(v, KindTest)
			return err
		},
		"Timeout": func(v string) error {
			s.Timeout, err = parseTimeout(v)
			return err
		},
		"ExecStart": func(v string) error {
			s.ExecStart = v
			return nil
		},
		"ExecStartTimeout": func(v string) error {
			s.ExecStartTimeout, err = parseTimeout(v)
			return err
		},
		"ExecStopSuccess": func(v string) error {
			s.ExecStopSuccess = v
			return nil
		},
		"ExecStopSuccessTimeout": func(v string) error {
			s.StopSuccessTimeout, err = parseTimeout(v)
			return err
		},
		"ExecStopFail": func(v string) error {
			s.ExecStopFail = v
			return nil
		},
		"ExecStopFailTimeout": func(v string) error {
			s.StopFailTimeout, err = parseTimeout(v)
			return err
		},
		"ExecStop": func(v string) error {
			execStop = v
			return nil
		},
		"ExecStopTimeout": func(v string) error {
			execStopTimeout, err = parseTimeout(v)
			return err
		},
	}
	if err := applyKeys(f, sec, &s.Envelope, keys); err != nil {
		return nil, err
	}

	if execStop != "" {
		if s.ExecStopSuccess == "" {
			s.ExecStopSuccess = execStop
		}
		if s.ExecStopFail == "" {
			s.ExecStopFail = execStop
		}
	}
	if execStopTimeout > 0 {
		if s.StopSuccessTimeout == 0 {
			s.StopSuccessTimeout = execStopTimeout
		}
		if s.StopFailTimeout == 0 {
			s.StopFailTimeout = execStopTimeout
		}
	}
	return s, nil
}
