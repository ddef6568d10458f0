package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/exclave/exclave/internal/config"
	"github.com/exclave/exclave/internal/library"
	"github.com/exclave/exclave/internal/resolver"
	"github.com/exclave/exclave/internal/unit"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse every unit file and check each scenario resolves",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if len(cfg.ConfigDirs) == 0 {
		return fmt.Errorf("at least one --config-dir is required")
	}

	lib := library.New()
	problems := 0
	units := 0
	for _, dir := range cfg.ConfigDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("config dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if _, err := unit.NameFromPath(path); err != nil {
				continue
			}
			contents, err := os.ReadFile(path)
			if err != nil {
				fmt.Printf("error: %s: %v\n", path, err)
				problems++
				continue
			}
			units++
			res, err := lib.Upsert(path, contents)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				problems++
				continue
			}
			for _, w := range res.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
		}
	}

	// Scenarios resolve in no-jig mode here. Cycles, missing tests, and hard
	// dependencies on tests with a Jigs whitelist are all reported as errors;
	// only dropped suggestions show up as warnings.
	for _, name := range lib.Enumerate(unit.KindScenario) {
		entry, ok := lib.Get(name)
		if !ok || entry.Unit == nil {
			continue
		}
		scn, ok := entry.Unit.(*unit.Scenario)
		if !ok {
			continue
		}
		plan, err := resolver.Resolve(lib, scn, unit.Name{})
		if err != nil {
			fmt.Printf("error: scenario %s: %v\n", name.ID, err)
			problems++
			continue
		}
		for _, w := range plan.Warnings {
			fmt.Printf("warning: scenario %s: %s\n", name.ID, w)
		}
	}

	fmt.Printf("%d units checked, %d problems\n", units, problems)
	if problems > 0 {
		return fmt.Errorf("validation failed")
	}
	return nil
}
