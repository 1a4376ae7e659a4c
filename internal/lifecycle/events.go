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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event is a single lifecycle transition, appended as one JSON line to
// the event log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // "starting", "stopped", "signaled", "stopping", ...
	Service   string    `json:"service,omitempty"`
	PID       int       `json:"pid,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	LaunchID  string    `json:"launch_id,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Signal    *int      `json:"signal,omitempty"`
	CoreDump  bool      `json:"core_dump,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventLog appends supervisor lifecycle events to a file for audit and
// postmortem use. A nil EventLog or an empty path disables recording;
// every method is then a no-op, so callers never branch on whether the
// sink is configured.
type EventLog struct {
	path    string
	service string
	runID   string
}

// NewEventLog creates an event log writing to path, tagging every event
// with the service name and the supervisor session's run id.
func NewEventLog(path, service, runID string) *EventLog {
	return &EventLog{
		path:    path,
		service: service,
		runID:   runID,
	}
}

// SupervisorStarted records the detached supervisor coming up.
func (l *EventLog) SupervisorStarted(pid int) error {
	return l.write(Event{
		Event:   "supervisor_started",
		PID:     pid,
		Message: "supervisor running",
	})
}

// SupervisorExited records the detached supervisor going away with its
// final status.
func (l *EventLog) SupervisorExited(pid, status int) error {
	return l.write(Event{
		Event:    "supervisor_exited",
		PID:      pid,
		ExitCode: &status,
	})
}

// Starting records a child launch. The message mirrors the launched
// command line so the event log reads like a narrative.
func (l *EventLog) Starting(launchID, cmdline string, pid int) error {
	return l.write(Event{
		Event:    "starting",
		PID:      pid,
		LaunchID: launchID,
		Message:  fmt.Sprintf("%s (pid %d)", cmdline, pid),
	})
}

// Stopped records a child that exited normally with the given code.
func (l *EventLog) Stopped(launchID string, pid, exitCode int) error {
	return l.write(Event{
		Event:    "stopped",
		PID:      pid,
		LaunchID: launchID,
		ExitCode: &exitCode,
	})
}

// Signaled records a child killed by a signal, and whether it dumped
// core.
func (l *EventLog) Signaled(launchID string, pid, signal int, coreDump bool) error {
	return l.write(Event{
		Event:    "signaled",
		PID:      pid,
		LaunchID: launchID,
		Signal:   &signal,
		CoreDump: coreDump,
	})
}

// Stopping records that a stop signal is being relayed to the child.
func (l *EventLog) Stopping(launchID string, pid, signal int) error {
	return l.write(Event{
		Event:    "stopping",
		PID:      pid,
		LaunchID: launchID,
		Signal:   &signal,
		Message:  fmt.Sprintf("got signal %d", signal),
	})
}

// write appends the event to the log file, stamping the shared fields.
func (l *EventLog) write(event Event) error {
	if l == nil || l.path == "" {
		return nil
	}

	event.Timestamp = time.Now()
	event.Service = l.service
	event.RunID = l.runID

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create event log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}
