package unit

// Jig is the in-memory form of a .jig file. A jig describes one physical
// test fixture; its TestFile/TestProgram predicates decide whether Exclave
// is currently attached to it.
type Jig struct {
	Envelope

	// TestFile, when set, must exist and be readable for the jig to match.
	TestFile string

	// TestProgram, when set, must exit 0 for the jig to match.
	TestProgram string

	// DefaultScenario is selected when this jig becomes active and no
	// scenario has been chosen yet.
	DefaultScenario Name
}

// ParseJig decodes a .jig file.
func ParseJig(path string, contents []byte) (*Jig, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Jig")
	if err != nil {
		return nil, err
	}

	j := &Jig{Envelope: *env}
	keys := map[string]func(string) error{
		"TestFile": func(v string) error {
			j.TestFile = v
			return nil
		},
		"TestProgram": func(v string) error {
			j.TestProgram = v
			return nil
		},
		"DefaultScenario": func(v string) error {
			j.DefaultScenario, err = ParseName(v, KindScenario)
			return err
		},
		// DefaultWorkingDirectory is a synonym kept from older unit files.
		"DefaultWorkingDirectory": func(v string) error {
			j.WorkingDirectory = v
			return nil
		},
	}
	if err := applyKeys(f, sec, &j.Envelope, keys); err != nil {
		return nil, err
	}
	return j, nil
}
