// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package supervisor runs a single child command, forwards its output
// line by line, relays stop signals, and relaunches it per the restart
// policy. One goroutine owns the supervision loop; two readers drain
// the child's pipes onto a merged channel; signal delivery only flips
// atomic flags the loop polls. The child shares the supervisor's
// process group, so a group signal from the stop path reaches both.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/steward/internal/log"
)

// ErrNoCommand is returned by New when there is nothing to supervise.
var ErrNoCommand = errors.New("no command to supervise")

// LineForwarder receives every complete child output line.
type LineForwarder interface {
	ForwardLine(pid int, line Line)
}

// Events receives child lifecycle transitions.
type Events interface {
	Starting(launchID, cmdline string, pid int) error
	Stopped(launchID string, pid, exitCode int) error
	Signaled(launchID string, pid, signal int, coreDump bool) error
	Stopping(launchID string, pid, signal int) error
}

// Recorder observes supervision activity for metrics.
type Recorder interface {
	ChildStarted(pid int)
	ChildExited(exitCode int)
	ChildSignaled(signal int, coreDump bool)
	ChildRestarted()
	LineForwarded(stream string)
}

// Config assembles a Supervisor. Command is required; every collaborator
// is optional and defaults to a no-op.
type Config struct {
	// Command is the child argv. Command[0] is resolved through PATH.
	Command []string

	Restart RestartPolicy

	// Tick bounds how long the loop goes without a reap and signal
	// check while the child is quiet. Defaults to 100ms.
	Tick time.Duration

	Logger  *slog.Logger
	Relay   *SignalRelay
	Forward LineForwarder
	Events  Events
	Metrics Recorder
}

// Supervisor drives one child command through start, output forwarding,
// signal relay, exit decoding, and restart.
type Supervisor struct {
	command []string
	cmdline string
	restart RestartPolicy
	tick    time.Duration

	logger  *slog.Logger
	relay   *SignalRelay
	forward LineForwarder
	events  Events
	metrics Recorder

	// restartPending asks the loop to stop the child gracefully;
	// restartNow then tells Run to relaunch without the interval wait.
	// Set by TriggerRestart, consumed by the loop and Run.
	restartPending atomic.Bool
	restartNow     atomic.Bool

	// lastDeliberateSig is the signal number most recently sent to the
	// child on purpose, so its death from that signal is not logged as
	// unexpected.
	lastDeliberateSig atomic.Int32
}

// New validates the configuration and returns a ready Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Command) == 0 {
		return nil, ErrNoCommand
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Relay == nil {
		cfg.Relay = NewSignalRelay()
	}
	if cfg.Forward == nil {
		cfg.Forward = noopForwarder{}
	}
	if cfg.Events == nil {
		cfg.Events = noopEvents{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopRecorder{}
	}

	return &Supervisor{
		command: cfg.Command,
		cmdline: strings.Join(cfg.Command, " "),
		restart: cfg.Restart,
		tick:    cfg.Tick,
		logger:  cfg.Logger,
		relay:   cfg.Relay,
		forward: cfg.Forward,
		events:  cfg.Events,
		metrics: cfg.Metrics,
	}, nil
}

// Run supervises the command until it exits for good: until the first
// exit when restarts are disabled, until a stop signal otherwise. The
// returned status is the child's last exit code, or the number of the
// signal that killed it.
func (s *Supervisor) Run() int {
	for {
		lastStart := time.Now()
		out := s.runOnce()
		status := out.status()

		if s.relay.StopRequested() {
			return status
		}
		if s.restartNow.CompareAndSwap(true, false) {
			s.metrics.ChildRestarted()
			continue
		}
		if !s.restart.Enabled() {
			return status
		}
		if !s.restart.Wait(lastStart, s.relay.StopRequested, s.logger) {
			return status
		}
		s.metrics.ChildRestarted()
	}
}

// TriggerRestart asks the loop to stop the current child gracefully and
// relaunch it immediately after the exit is reaped. A stop request
// always wins over a triggered restart.
func (s *Supervisor) TriggerRestart() {
	if s.relay.StopRequested() {
		return
	}
	s.restartPending.Store(true)
}

// outcome is the decoded end state of one child run.
type outcome struct {
	exitCode int
	signal   int
	coreDump bool
}

// status collapses the outcome to the value the supervisor exits with:
// the exit code, or the raw number of the killing signal.
func (o outcome) status() int {
	if o.signal != 0 {
		return o.signal
	}
	return o.exitCode
}

// runOnce takes the child through one full start → exit cycle. A start
// that never gets off the ground yields a synthetic exit-code-1 outcome,
// the same thing the restart policy would see from a command that
// launched and immediately failed.
func (s *Supervisor) runOnce() outcome {
	launchID := uuid.NewString()

	// A restart request satisfied by this very launch is consumed, not
	// carried over to kill the fresh child.
	s.restartPending.Store(false)

	outR, outW, err := os.Pipe()
	if err != nil {
		s.logger.Error("failed to create stdout pipe", log.Error(err))
		return outcome{exitCode: 1}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		s.logger.Error("failed to create stderr pipe", log.Error(err))
		return outcome{exitCode: 1}
	}

	// Stdin is left nil: the child reads from the null device, never
	// from the supervisor's own (already detached) stdin.
	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		s.logger.Error("failed to start child",
			slog.String("command", s.cmdline), log.Error(err))
		return outcome{exitCode: 1}
	}
	pid := cmd.Process.Pid

	// The child owns the write ends now; keeping them open here would
	// hide the child's EOF from the readers.
	outW.Close()
	errW.Close()

	s.logger.Info("child started",
		slog.String("command", s.cmdline),
		slog.Int(log.PIDKey, pid),
		slog.String(log.LaunchIDKey, launchID))
	s.events.Starting(launchID, s.cmdline, pid)
	s.metrics.ChildStarted(pid)

	// The merged stream stays open until every copy of the write ends
	// is closed; a grandchild that inherited them holds its stream open
	// past the child's own exit.
	mux := NewLineMux(outR, errR)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var (
		lines  = mux.Lines()
		out    outcome
		reaped bool
	)
	for lines != nil || !reaped {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				break
			}
			s.forward.ForwardLine(pid, line)
			s.metrics.LineForwarded(line.Stream)
		case <-ticker.C:
		}

		// Reap and signal checks run after every wakeup, so they are
		// never starved by a chatty child.
		if !reaped {
			reaped, out = s.reap(pid, launchID)
		}
		if !reaped {
			s.relaySignals(pid, launchID)
		}
	}
	return out
}

// reap performs one non-blocking wait on the child and decodes the
// status. Job-control stops are logged and supervision continues; any
// status that is neither an exit, a signal death, nor a stop cannot
// happen for our own child and panics.
func (s *Supervisor) reap(pid int, launchID string) (bool, outcome) {
	var ws syscall.WaitStatus
	wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG|syscall.WUNTRACED, nil)
	if err == syscall.EINTR {
		return false, outcome{}
	}
	if err != nil {
		panic(fmt.Sprintf("wait for child %d failed: %v", pid, err))
	}
	if wpid == 0 {
		return false, outcome{}
	}

	switch {
	case ws.Stopped():
		s.logger.Info("child stopped, waiting for it to continue",
			slog.Int(log.PIDKey, pid))
		return false, outcome{}

	case ws.Exited():
		code := ws.ExitStatus()
		s.logger.Debug("child exited",
			slog.Int(log.PIDKey, pid),
			slog.Int("exit_code", code))
		s.events.Stopped(launchID, pid, code)
		s.metrics.ChildExited(code)
		return true, outcome{exitCode: code}

	case ws.Signaled():
		sig := int(ws.Signal())
		core := ws.CoreDump()
		if int32(sig) != s.lastDeliberateSig.Load() {
			s.logger.Warn("child died from signal",
				slog.Int(log.PIDKey, pid),
				slog.Int("signal", sig))
		}
		if core {
			s.logger.Warn("child dumped core", slog.Int(log.PIDKey, pid))
		}
		s.events.Signaled(launchID, pid, sig, core)
		s.metrics.ChildSignaled(sig, core)
		return true, outcome{signal: sig, coreDump: core}

	default:
		panic(fmt.Sprintf("unexpected wait status %#x for child %d", uint32(ws), pid))
	}
}

// relaySignals delivers at most one pending stop signal and one pending
// restart request to the live child.
func (s *Supervisor) relaySignals(pid int, launchID string) {
	if sig, ok := s.relay.PollForward(); ok {
		s.logger.Info("relaying stop signal to child",
			slog.Int(log.PIDKey, pid),
			slog.Int("signal", int(sig)))
		s.events.Stopping(launchID, pid, int(sig))
		s.lastDeliberateSig.Store(int32(sig))
		syscall.Kill(pid, sig)
		return
	}

	if s.restartPending.CompareAndSwap(true, false) {
		s.logger.Info("stopping child for restart", slog.Int(log.PIDKey, pid))
		s.events.Stopping(launchID, pid, int(syscall.SIGTERM))
		s.lastDeliberateSig.Store(int32(syscall.SIGTERM))
		s.restartNow.Store(true)
		syscall.Kill(pid, syscall.SIGTERM)
	}
}

type noopForwarder struct{}

func (noopForwarder) ForwardLine(int, Line) {}

type noopEvents struct{}

func (noopEvents) Starting(string, string, int) error    { return nil }
func (noopEvents) Stopped(string, int, int) error        { return nil }
func (noopEvents) Signaled(string, int, int, bool) error { return nil }
func (noopEvents) Stopping(string, int, int) error       { return nil }

type noopRecorder struct{}

func (noopRecorder) ChildStarted(int)        {}
func (noopRecorder) ChildExited(int)         {}
func (noopRecorder) ChildSignaled(int, bool) {}
func (noopRecorder) ChildRestarted()         {}
func (noopRecorder) LineForwarded(string)    {}
