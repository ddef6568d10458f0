package unit

import "time"

// Coupon is the in-memory form of a .coupon file: a per-scenario ritual for
// serial-number or certificate issuance. The preflight checks out a coupon
// before any test runs; the stop hooks commit or roll it back afterwards.
type Coupon struct {
	Envelope

	// Scenarios lists the scenarios this coupon participates in.
	Scenarios []Name

	ExecPreflight   string
	ExecStopSuccess string
	ExecStopFail    string

	// Timeout bounds each coupon hook individually. Zero means the
	// engine's default command timeout applies.
	Timeout time.Duration
}

// AppliesTo reports whether the coupon is listed for the given scenario.
func (c *Coupon) AppliesTo(scenario Name) bool {
	for _, s := range c.Scenarios {
		if s == scenario {
			return true
		}
	}
	return false
}

// ParseCoupon decodes a .coupon file.
func ParseCoupon(path string, contents []byte) (*Coupon, error) {
	f, err := ParseFile(path, contents)
	if err != nil {
		return nil, err
	}
	env, sec, err := newEnvelope(f, "Coupon")
	if err != nil {
		return nil, err
	}

	c := &Coupon{Envelope: *env}
	keys := map[string]func(string) error{
		"Scenarios": func(v string) error {
			c.Scenarios, err = ParseNameList(v, KindScenario)
			return err
		},
		"ExecPreflight": func(v string) error {
			c.ExecPreflight = v
			return nil
		},
		"ExecStopSuccess": func(v string) error {
			c.ExecStopSuccess = v
			return nil
		},
		"ExecStopFail": func(v string) error {
			c.ExecStopFail = v
			return nil
		},
		"Timeout": func(v string) error {
			c.Timeout, err = parseTimeout(v)
			return err
		},
	}
	if err := applyKeys(f, sec, &c.Envelope, keys); err != nil {
		return nil, err
	}
	return c, nil
}
