package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/creack/pty"

	"github.com/exclave/exclave/internal/bus"
)

// child is one spawned process: its command, its PTY master, and the state
// shared between the I/O pumps and the reaper.
type child struct {
	spec Spec
	cmd  *exec.Cmd
	ptmx *os.File

	stderr io.ReadCloser

	mu      sync.Mutex
	last    string
	readyRe *regexp.Regexp

	ready     chan struct{}
	readyOnce sync.Once

	done     chan struct{}
	exitCode int
	signal   int

	pumps sync.WaitGroup
	bc    *bus.Broadcast
}

// spawn launches the command in its own session on a fresh PTY. stdout and
// stdin share the PTY slave; stderr is a separate pipe. The returned child
// has live I/O pumps and a reaper goroutine.
func (s *Supervisor) spawn(spec Spec) (*child, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("no command specified")
	}
	cmd := exec.Command("/bin/sh", "-c", spec.Command)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.SysProcAttr = sessionAttr()

	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("pty: %w", err)
	}
	cmd.Stdin = tty
	cmd.Stdout = tty

	errR, errW, err := os.Pipe()
	if err != nil {
		ptmx.Close()
		tty.Close()
		return nil, err
	}
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		ptmx.Close()
		tty.Close()
		errR.Close()
		errW.Close()
		return nil, err
	}
	// The child holds its own copies of the slave ends.
	tty.Close()
	errW.Close()

	c := &child{
		spec:   spec,
		cmd:    cmd,
		ptmx:   ptmx,
		stderr: errR,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		bc:     s.Broadcast,
	}
	return c, nil
}

// watchReady installs the daemon readiness pattern. Must be called before
// startPumps so no line can slip past unmatched.
func (c *child) watchReady(re *regexp.Regexp) {
	c.readyRe = re
	if re == nil {
		// No marker configured: ready the moment the child is up.
		c.readyOnce.Do(func() { close(c.ready) })
	}
}

// startPumps begins relaying the child's output onto the broadcast bus and
// starts the reaper that waits for exit.
func (c *child) startPumps() {
	c.pumps.Add(2)
	go c.pump(c.ptmx, bus.ClassStdout)
	go c.pump(c.stderr, bus.ClassStderr)
	go c.reap()
}

// pump relays one stream line by line. Lines are delivered in source order;
// the PTY read erroring out (EIO) means the child side is gone.
func (c *child) pump(r io.Reader, class string) {
	defer c.pumps.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		// The PTY line discipline emits CRLF; strip the CR.
		line := strings.TrimSuffix(scanner.Text(), "\r")

		c.mu.Lock()
		c.last = line
		c.mu.Unlock()

		rec := bus.NewRecord(bus.TypeLog, c.spec.Unit, line)
		rec.Class = class
		c.bc.Publish(rec)

		if class == bus.ClassStdout && c.readyRe != nil && c.readyRe.MatchString(line) {
			c.readyOnce.Do(func() { close(c.ready) })
		}
	}
}

// reap waits for both pumps to drain, collects the exit status, and releases
// the PTY. done closes only after every resource is back.
func (c *child) reap() {
	c.pumps.Wait()
	err := c.cmd.Wait()
	c.ptmx.Close()
	c.stderr.Close()

	code, sig := exitStatus(err)
	c.mu.Lock()
	c.exitCode = code
	c.signal = sig
	c.mu.Unlock()
	close(c.done)
}

// Done signals that the child has been reaped and its resources released.
func (c *child) Done() <-chan struct{} {
	return c.done
}

func (c *child) lastLine() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *child) pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// signalGroup delivers a signal to the child's whole process group, so
// grandchildren such as openocd die with it.
func (c *child) signalGroup(sig killSig) {
	if pid := c.pid(); pid > 0 {
		signalPGID(pid, sig)
	}
}

// result converts the reaped exit status to a Result. Calling it on a child
// that is somehow still alive (a leaked process) reports a failure with what
// is known.
func (c *child) result() Result {
	select {
	case <-c.done:
	default:
		return Result{Outcome: Fail, ExitCode: -1, Reason: "not reaped", LastLine: c.lastLine()}
	}

	c.mu.Lock()
	code, sig, last := c.exitCode, c.signal, c.last
	c.mu.Unlock()

	switch {
	case sig != 0:
		return Result{Outcome: Fail, ExitCode: code, Signal: sig,
			Reason: fmt.Sprintf("signal=%d", sig), LastLine: last}
	case code != 0:
		return Result{Outcome: Fail, ExitCode: code,
			Reason: fmt.Sprintf("exit code %d", code), LastLine: last}
	}
	return Result{Outcome: Pass, LastLine: last}
}
