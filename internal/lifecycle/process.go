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
	"syscall"
	"time"
)

// ProcessInfo describes a process the stop path is about to signal.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// ProcessAlive probes the pid with the null signal. EPERM counts as
// alive: the process exists but belongs to another user, and a duplicate
// supervisor must not start next to it. Non-positive pids are never
// alive; kill(0, 0) would probe our own process group instead.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// GroupAlive probes the process group led by pid with the null signal.
func GroupAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(-pid, 0)
	return err == nil || err == syscall.EPERM
}

// SignalProcess delivers sig to a single process.
func SignalProcess(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal invalid pid %d", pid)
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}
	return nil
}

// SignalGroup delivers sig to the whole process group led by pid, so a
// service that spawned its own children is stopped together with them.
func SignalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal invalid process group %d", pid)
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return fmt.Errorf("failed to send signal %v to process group %d: %w", sig, pid, err)
	}
	return nil
}

// WaitForGroupExit polls the process group at 100ms resolution until it
// becomes unsignalable or the timeout elapses. Returns true when the
// group is gone.
func WaitForGroupExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !GroupAlive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !GroupAlive(pid)
}

// GetProcessInfo returns liveness and, best effort, the command line of
// the process with the given pid. The command helps operators confirm a
// pid file still points at the service they think it does.
func GetProcessInfo(pid int) *ProcessInfo {
	info := &ProcessInfo{
		PID:     pid,
		Running: ProcessAlive(pid),
	}

	if info.Running {
		cmd, err := processCommand(pid)
		if err != nil {
			info.Command = "<unknown>"
		} else {
			info.Command = cmd
		}
	}

	return info
}
