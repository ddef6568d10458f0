package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/config"
	"github.com/exclave/exclave/internal/engine"
	"github.com/exclave/exclave/internal/library"
	"github.com/exclave/exclave/internal/loader"
	"github.com/exclave/exclave/internal/resolver"
	"github.com/exclave/exclave/internal/supervisor"
	"github.com/exclave/exclave/internal/unit"
)

var planCmd = &cobra.Command{
	Use:   "plan <scenario>",
	Short: "Resolve a scenario's schedule without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringP("output", "o", "text", "output format: text or toml")
	planCmd.Flags().Bool("no-detect", false, "skip jig detection and plan in no-jig mode")
	rootCmd.AddCommand(planCmd)
}

// planStep is the TOML shape of one schedule entry.
type planStep struct {
	Test     string   `toml:"test"`
	Assumed  bool     `toml:"assumed,omitempty"`
	Requires []string `toml:"requires,omitempty"`
}

// planDoc is the TOML shape of a resolved schedule.
type planDoc struct {
	Scenario string     `toml:"scenario"`
	Jig      string     `toml:"jig,omitempty"`
	Warnings []string   `toml:"warnings,omitempty"`
	Steps    []planStep `toml:"step"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if len(cfg.ConfigDirs) == 0 {
		return fmt.Errorf("at least one --config-dir is required")
	}

	lib := library.New()
	bc := bus.NewBroadcast(bus.DefaultBuffer) // discarded; no subscribers
	ld := loader.New(lib, bc, nil)
	for _, dir := range cfg.ConfigDirs {
		if err := ld.LoadDir(dir); err != nil {
			return fmt.Errorf("config dir %s: %w", dir, err)
		}
	}

	sup := supervisor.New(bc, cfg.TerminateGrace, cfg.LeakGrace)
	eng := engine.New(lib, bc, bus.NewControl(), sup, cfg, &config.WorkDirs{}, nil)
	if noDetect, _ := cmd.Flags().GetBool("no-detect"); !noDetect {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		eng.DetectJig(ctx)
	}

	scenario, err := unit.ParseName(args[0], unit.KindScenario)
	if err != nil {
		return err
	}
	entry, ok := lib.Get(scenario)
	if !ok || entry.Unit == nil {
		return fmt.Errorf("scenario %s not found", scenario)
	}
	scn := entry.Unit.(*unit.Scenario)
	jig := eng.ActiveJig()
	plan, err := resolver.Resolve(lib, scn, jig)
	if err != nil {
		return err
	}

	doc := planDoc{Scenario: scenario.ID, Jig: jig.ID, Warnings: plan.Warnings}
	for _, step := range plan.Steps {
		ps := planStep{Test: step.Name.ID, Assumed: step.Assumed}
		for _, dep := range step.HardDeps {
			ps.Requires = append(ps.Requires, dep.ID)
		}
		doc.Steps = append(doc.Steps, ps)
	}

	if format, _ := cmd.Flags().GetString("output"); format == "toml" {
		out, err := toml.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	if doc.Jig != "" {
		fmt.Printf("jig: %s\n", doc.Jig)
	}
	fmt.Printf("scenario: %s\n", doc.Scenario)
	for _, w := range doc.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for i, step := range doc.Steps {
		suffix := ""
		if step.Assumed {
			suffix = " (assumed)"
		}
		fmt.Printf("%3d. %s%s\n", i+1, step.Test, suffix)
	}
	return nil
}
