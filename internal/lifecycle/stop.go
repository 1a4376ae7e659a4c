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

package lifecycle

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// StopController terminates a running supervisor located through its
// PID file. Termination is persistent rather than immediately violent:
// the process group gets a SIGTERM, then repeated SIGTERMs if it lingers,
// and a single SIGKILL only after a long grace period. The poll loop
// ends the moment the group stops being signalable.
type StopController struct {
	PIDFile *PIDFile

	// StopCommand, when non-empty, is run through the shell instead of
	// signaling the group directly. Its failure is logged, not fatal;
	// the poll loop still decides the outcome.
	StopCommand string

	// Out receives operator-facing progress output. Defaults to
	// os.Stdout.
	Out io.Writer

	Logger *slog.Logger

	// Poll is the liveness probe interval.
	Poll time.Duration
	// ResendAfter is how long to wait before re-sending SIGTERM.
	ResendAfter time.Duration
	// ResendEvery is the interval between repeated SIGTERMs.
	ResendEvery time.Duration
	// KillAfter is when the single SIGKILL is sent.
	KillAfter time.Duration
	// Deadline caps the whole poll loop.
	Deadline time.Duration
}

// NewStopController creates a StopController with the production
// timeline: 100ms polls, SIGTERM re-sent every 10s after the first 30s,
// SIGKILL at 90s, loop capped at 180s.
func NewStopController(pidPath string) *StopController {
	return &StopController{
		PIDFile:     NewPIDFile(pidPath),
		Out:         os.Stdout,
		Poll:        100 * time.Millisecond,
		ResendAfter: 30 * time.Second,
		ResendEvery: 10 * time.Second,
		KillAfter:   90 * time.Second,
		Deadline:    180 * time.Second,
	}
}

// Run executes the stop sequence. It returns nil when the target is
// already gone or the sequence completed, and an error only when the
// initial signal could not be delivered. The PID file is cleaned up in
// every path that reached the signaling stage.
func (s *StopController) Run() error {
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}

	pid := s.PIDFile.ReadOwner()
	if pid == 0 || !ProcessAlive(pid) {
		fmt.Fprintln(s.Out, "not running")
		return s.PIDFile.Cleanup()
	}

	info := GetProcessInfo(pid)
	s.Logger.Info("stopping supervisor",
		slog.Int("pid", pid),
		slog.String("command", info.Command))

	if s.StopCommand != "" {
		fmt.Fprintf(s.Out, "running stop command: %s\n", s.StopCommand)
		cmd := exec.Command("sh", "-c", s.StopCommand)
		cmd.Stdout = s.Out
		cmd.Stderr = s.Out
		if err := cmd.Run(); err != nil {
			s.Logger.Warn("stop command failed", slog.Any("error", err))
		}
	} else {
		fmt.Fprintf(s.Out, "sending SIGTERM to process group %d\n", pid)
		if err := SignalGroup(pid, syscall.SIGTERM); err != nil {
			return err
		}
	}

	fmt.Fprintf(s.Out, "waiting for exit (up to 60 seconds) ")
	s.pollUntilGone(pid)

	return s.PIDFile.Cleanup()
}

// pollUntilGone probes the process group until it is unsignalable or
// the deadline passes, escalating along the configured timeline.
func (s *StopController) pollUntilGone(pid int) {
	resendAfter := int(s.ResendAfter / s.Poll)
	resendEvery := int(s.ResendEvery / s.Poll)
	killAt := int(s.KillAfter / s.Poll)
	total := int(s.Deadline / s.Poll)
	dotEvery := int(time.Second / s.Poll)
	if dotEvery < 1 {
		dotEvery = 1
	}

	for cnt := 0; cnt < total; cnt++ {
		if cnt > resendAfter && resendEvery > 0 && cnt%resendEvery == 0 {
			s.Logger.Debug("re-sending SIGTERM", slog.Int("pid", pid))
			_ = SignalGroup(pid, syscall.SIGTERM)
		}

		if !GroupAlive(pid) {
			fmt.Fprintln(s.Out, "DONE")
			return
		}
		if cnt%dotEvery == 0 {
			fmt.Fprint(s.Out, ".")
		}

		if cnt == killAt {
			fmt.Fprintf(s.Out, "\ngiving up, sending SIGKILL to process group %d\n", pid)
			_ = SignalGroup(pid, syscall.SIGKILL)
		}

		time.Sleep(s.Poll)
	}

	fmt.Fprintln(s.Out, "still running")
	s.Logger.Warn("process group outlived the stop deadline", slog.Int("pid", pid))
}
