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

package bootstrap

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/lifecycle"
)

// StartOptions configures the foreground half of the start command.
type StartOptions struct {
	// Config is the effective configuration with CLI flags already
	// merged in. Config.Command is the child argv to supervise.
	Config *config.Config

	// ConfigPath is handed down to the detached supervisor so it can
	// reload the same file. Empty means defaults only.
	ConfigPath string

	// Out and Err receive operator-facing messages. They default to
	// os.Stdout and os.Stderr.
	Out io.Writer
	Err io.Writer
}

// Start acquires the pid file lock and re-execs this binary as a
// detached supervisor, handing the locked descriptor down so the lock
// never lapses between the two processes. It prints the supervisor's
// pid and returns; the supervisor keeps running in the background.
//
// Finding an instance already running is a success: start is idempotent
// and reports the existing pid instead of spawning a duplicate.
func Start(opts StartOptions) error {
	cfg := opts.Config
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := opts.Err
	if errOut == nil {
		errOut = os.Stderr
	}

	if len(cfg.Command) == 0 {
		return fmt.Errorf("no command to supervise")
	}

	pf := lifecycle.NewPIDFile(cfg.PIDFile)
	if pid := pf.ReadOwner(); lifecycle.ProcessAlive(pid) {
		fmt.Fprintf(errOut, "steward already running with pid %d\n", pid)
		return nil
	}

	if err := pf.Open(); err != nil {
		return fmt.Errorf("failed to open pid file: %w", err)
	}
	locked, err := pf.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock pid file: %w", err)
	}
	if !locked {
		// Lost the race: another foreground claimed the lock between
		// the liveness probe and here, or a supervisor holds it
		// without having written its pid yet.
		if pid := pf.ReadOwner(); pid != 0 {
			fmt.Fprintf(errOut, "steward already running with pid %d\n", pid)
		} else {
			fmt.Fprintf(errOut, "steward already starting (pid file %s is locked)\n", cfg.PIDFile)
		}
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		pf.Cleanup()
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		pf.Cleanup()
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer stdin.Close()
	stdout, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		pf.Cleanup()
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer stdout.Close()

	cmd := exec.Command(exe, buildChildArgs(cfg, opts.ConfigPath)...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stdout
	// The locked descriptor rides to the supervisor as fd 3. flock
	// lives on the open file description, shared by parent and child
	// duplicates, so the lock stays held across the handoff and only
	// lapses when both processes have closed it.
	cmd.ExtraFiles = []*os.File{pf.File()}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		// New session: no controlling terminal, immune to the shell's
		// job control and SIGHUP on logout.
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		pf.Cleanup()
		return fmt.Errorf("failed to spawn supervisor: %w", err)
	}

	fmt.Fprintf(out, "steward(%s) running with pid: %d\n", cfg.Service, cmd.Process.Pid)

	// Do not wait and do not clean up: the supervisor owns the pid
	// file now. Our copy of the locked descriptor closes when this
	// process exits, which leaves the child's duplicate holding it.
	_ = cmd.Process.Release()
	return nil
}

// buildChildArgs constructs the argv for the detached supervisor: the
// child marker, the flag-merged settings the foreground resolved, and
// the command to supervise after a -- terminator.
func buildChildArgs(cfg *config.Config, configPath string) []string {
	args := []string{ChildMarker,
		"--lock-inherited",
		"--service", cfg.Service,
		"--pidfile", cfg.PIDFile,
		"--restart", cfg.RestartInterval.String(),
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	args = append(args, "--")
	args = append(args, cfg.Command...)
	return args
}
