// Package config holds Exclave's runtime configuration: values from
// .exclave.yaml, EXCLAVE_* env vars, and CLI flags, plus the working
// directory resolution chain shared by everything that spawns children.
package config

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration for one Exclave process.
type Config struct {
	ConfigDirs []string `mapstructure:"config_dir"`
	Quiet      bool     `mapstructure:"quiet"`
	Verbose    bool     `mapstructure:"verbose"`
	DebugLog   string   `mapstructure:"debug_log"`

	// DefaultTimeout bounds commands with no timeout of their own, such as
	// jig detection programs.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// TerminateGrace is the wait between SIGTERM and SIGKILL.
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`

	// LeakGrace is how long to wait for a SIGKILLed child to be reaped
	// before declaring it leaked and moving on.
	LeakGrace time.Duration `mapstructure:"leak_grace"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() Config {
	viper.SetDefault("config_dir", []string{})
	viper.SetDefault("quiet", false)
	viper.SetDefault("verbose", false)
	viper.SetDefault("debug_log", "")
	viper.SetDefault("default_timeout", 5*time.Second)
	viper.SetDefault("terminate_grace", 5*time.Second)
	viper.SetDefault("leak_grace", 10*time.Second)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}

// WorkDirs resolves the working directory for spawned children. A unit's own
// WorkingDirectory wins; otherwise the scenario default, then the jig
// default, then the fallback (the unit file's directory).
type WorkDirs struct {
	mu       sync.Mutex
	jig      string
	scenario string
}

// SetJig installs (or clears, with "") the jig-level default.
func (w *WorkDirs) SetJig(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jig = dir
}

// SetScenario installs (or clears, with "") the scenario-level default.
func (w *WorkDirs) SetScenario(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scenario = dir
}

// Resolve picks the effective working directory for a child whose unit
// declares unitDir as its own override (may be empty) and whose unit file
// lives in fallback.
func (w *WorkDirs) Resolve(unitDir, fallback string) string {
	if unitDir != "" {
		return unitDir
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scenario != "" {
		return w.scenario
	}
	if w.jig != "" {
		return w.jig
	}
	return fallback
}
