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

/*
Package lifecycle manages the supervisor's singleton lock, process
liveness probing, lifecycle event logging, and the stop control path.

# Singleton lock

The PID file's exclusive advisory lock (flock) is the source of truth for
"is an instance running". The file is opened without O_EXCL so a stale
file left by a crashed supervisor never blocks a fresh start: the kernel
releases advisory locks when the holder dies, making a successful
non-blocking lock attempt definitive.

	pf := lifecycle.NewPIDFile("/var/run/steward.pid")
	if err := pf.Open(); err != nil {
	    // directory missing or unwritable
	}
	locked, err := pf.TryLock()
	if err != nil || !locked {
	    // another instance is alive
	}

The pid is written only by the detached supervisor once it has become a
session leader, so the file's content always names the process that will
receive stop signals.

# Liveness

Liveness is probed with the null signal. A probe that fails with EPERM
still counts as alive (the process exists but belongs to someone else),
which keeps a second instance from starting by mistake.

# Stop path

StopController reads the recorded owner, signals its process group with
escalating persistence (repeated SIGTERM, then a single SIGKILL), polls
for death at 100ms resolution, and cleans up the PID file under the same
ownership rule as the supervisor itself.

# Event logging

Lifecycle transitions (starting, stopped, stopping) are appended as JSON
lines to an event log for audit and postmortem use.
*/
package lifecycle
