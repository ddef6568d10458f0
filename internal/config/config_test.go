package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.TerminateGrace != 5*time.Second {
		t.Errorf("TerminateGrace = %v, want 5s", cfg.TerminateGrace)
	}
	if cfg.LeakGrace != 10*time.Second {
		t.Errorf("LeakGrace = %v, want 10s", cfg.LeakGrace)
	}
	if cfg.DefaultTimeout != 5*time.Second {
		t.Errorf("DefaultTimeout = %v, want 5s", cfg.DefaultTimeout)
	}
	if cfg.Quiet {
		t.Error("Quiet should default to false")
	}
}

func TestWorkDirs_ResolutionOrder(t *testing.T) {
	t.Parallel()
	var w WorkDirs

	// Nothing set: fall back to the unit file's directory.
	if got := w.Resolve("", "/cfg"); got != "/cfg" {
		t.Errorf("fallback: got %q", got)
	}

	w.SetJig("/jig-wd")
	if got := w.Resolve("", "/cfg"); got != "/jig-wd" {
		t.Errorf("jig default: got %q", got)
	}

	w.SetScenario("/scn-wd")
	if got := w.Resolve("", "/cfg"); got != "/scn-wd" {
		t.Errorf("scenario overrides jig: got %q", got)
	}

	// A per-unit directory always wins.
	if got := w.Resolve("/unit-wd", "/cfg"); got != "/unit-wd" {
		t.Errorf("unit override: got %q", got)
	}

	// Clearing the scenario exposes the jig default again.
	w.SetScenario("")
	if got := w.Resolve("", "/cfg"); got != "/jig-wd" {
		t.Errorf("after clear: got %q", got)
	}
}
