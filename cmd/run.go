package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/exclave/exclave/internal/adapter"
	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/config"
	"github.com/exclave/exclave/internal/console"
	"github.com/exclave/exclave/internal/engine"
	"github.com/exclave/exclave/internal/library"
	"github.com/exclave/exclave/internal/loader"
	"github.com/exclave/exclave/internal/supervisor"
	"github.com/exclave/exclave/internal/telemetry"
	"github.com/exclave/exclave/internal/unit"
	"github.com/exclave/exclave/internal/watcher"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect the jig and serve scenarios until stopped",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if len(cfg.ConfigDirs) == 0 {
		return fmt.Errorf("at least one --config-dir is required")
	}

	var tel *telemetry.Emitter
	if cfg.DebugLog != "" {
		var err error
		tel, err = telemetry.NewEmitter(cfg.DebugLog)
		if err != nil {
			return err
		}
		defer tel.Close()
	}

	bc := bus.NewBroadcast(bus.DefaultBuffer)
	ctl := bus.NewControl()
	lib := library.New()
	work := &config.WorkDirs{}
	sup := supervisor.New(bc, cfg.TerminateGrace, cfg.LeakGrace)
	eng := engine.New(lib, bc, ctl, sup, cfg, work, tel)

	var consoleDone <-chan struct{}
	if !cfg.Quiet {
		consoleDone = console.New(os.Stdout, console.IsTTY()).Attach(bc)
	}

	// Discover units before anything runs: an unreadable config dir is a
	// fatal init failure.
	w, err := watcher.New()
	if err != nil {
		return err
	}
	ld := loader.New(lib, bc, tel)
	for _, dir := range cfg.ConfigDirs {
		initial, err := w.AddDir(dir)
		if err != nil {
			return fmt.Errorf("config dir %s: %w", dir, err)
		}
		for _, ev := range initial {
			ld.Apply(ev)
		}
	}
	w.Start()
	go ld.Run(w.Events)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bc.Publish(bus.NewLog(unit.Internal("main"), "exclave initializing"))
	eng.DetectJig(ctx)
	eng.RefreshDefaults()

	adapters := startAdapters(eng, lib, bc, ctl, work)

	eng.Loop(ctx)

	// Orderly teardown: adapters die, the watcher stops feeding the
	// loader, any straggling scenario is reaped, then the bus drains.
	for _, stopFn := range adapters {
		stopFn()
	}
	w.Stop()
	eng.WaitIdle()
	tel.Emit(telemetry.Event{Kind: telemetry.KindShutdown})
	bc.Close()
	if consoleDone != nil {
		<-consoleDone
	}
	return nil
}

// startAdapters launches every jig-compatible logger, interface, trigger,
// and updater in the library. Individual failures are logged, not fatal.
func startAdapters(eng *engine.Engine, lib *library.Library, bc *bus.Broadcast,
	ctl *bus.Control, work *config.WorkDirs) []func() {
	jig := eng.ActiveJig()
	var stops []func()

	for _, u := range lib.Units(unit.KindLogger) {
		lg := u.(*unit.Logger)
		if !lg.CompatibleWith(jig) {
			continue
		}
		l, err := adapter.StartLogger(lg, bc, work.Resolve(lg.WorkingDirectory, lg.UnitDir))
		if err != nil {
			bc.Publish(bus.NewLogError(lg.ID, err.Error()))
			continue
		}
		stops = append(stops, l.Stop)
	}
	for _, u := range lib.Units(unit.KindInterface) {
		in := u.(*unit.Interface)
		if !in.CompatibleWith(jig) {
			continue
		}
		i, err := adapter.StartInterface(in, eng, bc, ctl, work.Resolve(in.WorkingDirectory, in.UnitDir))
		if err != nil {
			bc.Publish(bus.NewLogError(in.ID, err.Error()))
			continue
		}
		stops = append(stops, i.Stop)
	}
	for _, u := range lib.Units(unit.KindTrigger) {
		tg := u.(*unit.Trigger)
		if !tg.CompatibleWith(jig) {
			continue
		}
		t, err := adapter.StartTrigger(tg, bc, ctl, work.Resolve(tg.WorkingDirectory, tg.UnitDir))
		if err != nil {
			bc.Publish(bus.NewLogError(tg.ID, err.Error()))
			continue
		}
		stops = append(stops, t.Stop)
	}
	for _, u := range lib.Units(unit.KindUpdater) {
		ud := u.(*unit.Updater)
		if !ud.CompatibleWith(jig) {
			continue
		}
		up, err := adapter.StartUpdater(ud, bc, ctl, work.Resolve(ud.WorkingDirectory, ud.UnitDir))
		if err != nil {
			bc.Publish(bus.NewLogError(ud.ID, err.Error()))
			continue
		}
		stops = append(stops, up.Stop)
	}
	return stops
}
