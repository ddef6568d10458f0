//go:build unix

package adapter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/exclave/exclave/internal/bus"
	"github.com/exclave/exclave/internal/config"
	"github.com/exclave/exclave/internal/engine"
	"github.com/exclave/exclave/internal/library"
	"github.com/exclave/exclave/internal/supervisor"
	"github.com/exclave/exclave/internal/unit"
)

func waitCmd(t *testing.T, ctl *bus.Control, what string, match func(bus.Command) bool) bus.Command {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cmd := <-ctl.Commands():
			if match(cmd) {
				return cmd
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func waitFile(t *testing.T, path string, ok func(string) bool) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && ok(string(data)) {
			return string(data)
		}
		time.Sleep(50 * time.Millisecond)
	}
	data, _ := os.ReadFile(path)
	t.Fatalf("file %s never matched; contents: %q", path, string(data))
	return ""
}

func TestLogger_WritesTSVRecords(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "records.tsv")
	u, err := unit.ParseLogger("disk.logger", []byte(fmt.Sprintf("[Logger]\nExecStart=cat > %s\n", out)))
	if err != nil {
		t.Fatal(err)
	}

	bc := bus.NewBroadcast(64)
	l, err := StartLogger(u, bc, t.TempDir())
	if err != nil {
		t.Fatalf("StartLogger: %v", err)
	}

	bc.Publish(bus.NewLog(unit.Internal("main"), "first line"))
	bc.Publish(bus.NewRecord(bus.TypePass, unit.Name{ID: "led", Kind: unit.KindTest}, "ok"))

	data := waitFile(t, out, func(s string) bool { return strings.Count(s, "\n") >= 2 })
	l.Stop()

	scanner := bufio.NewScanner(strings.NewReader(data))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	for _, line := range lines {
		if fields := strings.Split(line, "\t"); len(fields) != 6 {
			t.Errorf("record %q has %d fields, want 6", line, len(fields))
		}
	}
	if !strings.HasPrefix(lines[1], "2\tled\ttest\t") {
		t.Errorf("PASS record framed wrong: %q", lines[1])
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "records.jsonl")
	u, err := unit.ParseLogger("json.logger",
		[]byte(fmt.Sprintf("[Logger]\nFormat=json\nExecStart=cat > %s\n", out)))
	if err != nil {
		t.Fatal(err)
	}

	bc := bus.NewBroadcast(64)
	l, err := StartLogger(u, bc, t.TempDir())
	if err != nil {
		t.Fatalf("StartLogger: %v", err)
	}
	bc.Publish(bus.NewLog(unit.Internal("main"), "hello"))

	data := waitFile(t, out, func(s string) bool { return strings.Contains(s, "\n") })
	l.Stop()
	if !strings.Contains(data, `"message":"hello"`) || !strings.Contains(data, `"message_type":0`) {
		t.Errorf("JSON framing wrong: %q", data)
	}
}

func TestTrigger_VerbsBecomeCommands(t *testing.T) {
	t.Parallel()
	u, err := unit.ParseTrigger("button.trigger",
		[]byte("[Trigger]\nExecStart=printf 'HELLO button v1\\nSTART smoke\\nSTOP\\nLOG pressed\\n'; sleep 1\n"))
	if err != nil {
		t.Fatal(err)
	}

	bc := bus.NewBroadcast(64)
	ctl := bus.NewControl()
	tr, err := StartTrigger(u, bc, ctl, t.TempDir())
	if err != nil {
		t.Fatalf("StartTrigger: %v", err)
	}
	defer tr.Stop()

	start := waitCmd(t, ctl, "START", func(c bus.Command) bool { return c.Op == bus.OpStart })
	if start.Name != (unit.Name{ID: "smoke", Kind: unit.KindScenario}) {
		t.Errorf("START name = %v", start.Name)
	}
	waitCmd(t, ctl, "ABORT", func(c bus.Command) bool { return c.Op == bus.OpAbort })
	logCmd := waitCmd(t, ctl, "LOG", func(c bus.Command) bool { return c.Op == bus.OpLog })
	if logCmd.Text != "pressed" {
		t.Errorf("LOG text = %q", logCmd.Text)
	}
}

func TestInterface_InboundVerbs(t *testing.T) {
	t.Parallel()
	u, err := unit.ParseInterface("cli.interface",
		[]byte("[Interface]\nExecStart=printf 'SCENARIO smoke\\nSTART\\nABORT\\nbogus verb\\n'; sleep 1\n"))
	if err != nil {
		t.Fatal(err)
	}

	lib := library.New()
	bc := bus.NewBroadcast(64)
	ctl := bus.NewControl()
	sup := supervisor.New(bc, time.Second, time.Second)
	eng := engine.New(lib, bc, ctl, sup, config.Config{}, &config.WorkDirs{}, nil)

	i, err := StartInterface(u, eng, bc, ctl, t.TempDir())
	if err != nil {
		t.Fatalf("StartInterface: %v", err)
	}
	defer i.Stop()

	// The adapter announces itself first.
	waitCmd(t, ctl, "HELLO", func(c bus.Command) bool { return c.Op == bus.OpHello })
	sel := waitCmd(t, ctl, "SCENARIO", func(c bus.Command) bool { return c.Op == bus.OpSelectScenario })
	if sel.Name.ID != "smoke" {
		t.Errorf("scenario = %v", sel.Name)
	}
	startCmd := waitCmd(t, ctl, "START", func(c bus.Command) bool { return c.Op == bus.OpStart })
	if !startCmd.Name.IsZero() {
		t.Errorf("bare START should carry no name, got %v", startCmd.Name)
	}
	waitCmd(t, ctl, "ABORT", func(c bus.Command) bool { return c.Op == bus.OpAbort })
	errCmd := waitCmd(t, ctl, "unimplemented", func(c bus.Command) bool { return c.Op == bus.OpLogError })
	if !strings.Contains(errCmd.Text, "bogus") {
		t.Errorf("unimplemented verb report = %q", errCmd.Text)
	}
}

func TestInterface_OutboundGreetingAndRecords(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "server.txt")
	u, err := unit.ParseInterface("cli.interface",
		[]byte(fmt.Sprintf("[Interface]\nExecStart=cat > %s\n", out)))
	if err != nil {
		t.Fatal(err)
	}

	lib := library.New()
	if _, err := lib.Upsert("led.test", []byte("[Test]\nExecStart=true\n")); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.Upsert("smoke.scenario", []byte("[Scenario]\nName=Smoke\nTests=led\n")); err != nil {
		t.Fatal(err)
	}

	bc := bus.NewBroadcast(64)
	ctl := bus.NewControl()
	sup := supervisor.New(bc, time.Second, time.Second)
	eng := engine.New(lib, bc, ctl, sup, config.Config{}, &config.WorkDirs{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Loop(ctx)

	i, err := StartInterface(u, eng, bc, ctl, t.TempDir())
	if err != nil {
		t.Fatalf("StartInterface: %v", err)
	}

	waitFile(t, out, func(s string) bool { return strings.Contains(s, "SCENARIOS") })
	bc.Publish(bus.NewRecord(bus.TypePass, unit.Name{ID: "led", Kind: unit.KindTest}, "all good"))
	data := waitFile(t, out, func(s string) bool { return strings.Contains(s, "PASS") })
	i.Stop()

	if !strings.Contains(data, "HELLO exclave 1.0") {
		t.Errorf("missing HELLO: %q", data)
	}
	if !strings.Contains(data, "SCENARIOS smoke") {
		t.Errorf("missing SCENARIOS: %q", data)
	}
	if !strings.Contains(data, "DESCRIBE scenario name smoke Smoke") {
		t.Errorf("missing DESCRIBE: %q", data)
	}
	if !strings.Contains(data, "PASS led all good") {
		t.Errorf("missing PASS record: %q", data)
	}
}

func TestUpdater_ShutdownRequest(t *testing.T) {
	t.Parallel()
	u, err := unit.ParseUpdater("ota.updater",
		[]byte("[Updater]\nExecStart=printf 'LOG staged image\\nSHUTDOWN update ready\\n'; sleep 1\n"))
	if err != nil {
		t.Fatal(err)
	}

	bc := bus.NewBroadcast(64)
	ctl := bus.NewControl()
	up, err := StartUpdater(u, bc, ctl, t.TempDir())
	if err != nil {
		t.Fatalf("StartUpdater: %v", err)
	}
	defer up.Stop()

	logCmd := waitCmd(t, ctl, "LOG", func(c bus.Command) bool { return c.Op == bus.OpLog })
	if logCmd.Text != "staged image" {
		t.Errorf("LOG text = %q", logCmd.Text)
	}
	down := waitCmd(t, ctl, "SHUTDOWN", func(c bus.Command) bool { return c.Op == bus.OpShutdown })
	if down.Text != "update ready" {
		t.Errorf("SHUTDOWN reason = %q", down.Text)
	}
}
