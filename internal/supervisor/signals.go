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

package supervisor

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// SignalRelay converts SIGINT/SIGTERM deliveries into flags the
// supervisor loop polls between events. The delivery goroutine only
// writes atomics; the loop is the sole consumer. A stop request is
// sticky: once set it is never cleared, while the pending-forward flag
// is cleared each time the loop relays the signal to the child.
type SignalRelay struct {
	lastSig        atomic.Int32
	stopRequested  atomic.Bool
	pendingForward atomic.Bool

	ch chan os.Signal
}

// NewSignalRelay returns an inert relay. Install arms it.
func NewSignalRelay() *SignalRelay {
	return &SignalRelay{}
}

// Install registers for SIGINT and SIGTERM and starts the delivery
// goroutine. SIGQUIT is ignored for the life of the process; the ignore
// disposition is inherited across exec, so supervised children ignore
// it too.
func (r *SignalRelay) Install() {
	if r.ch != nil {
		return
	}
	signal.Ignore(syscall.SIGQUIT)

	r.ch = make(chan os.Signal, 4)
	signal.Notify(r.ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range r.ch {
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			r.lastSig.Store(int32(s))
			r.stopRequested.Store(true)
			r.pendingForward.Store(true)
		}
	}()
}

// Uninstall detaches from signal delivery and restores default
// dispositions. Flags already set stay set.
func (r *SignalRelay) Uninstall() {
	if r.ch == nil {
		return
	}
	signal.Stop(r.ch)
	signal.Reset(syscall.SIGQUIT)
	close(r.ch)
	r.ch = nil
}

// StopRequested reports whether any stop signal has ever arrived.
func (r *SignalRelay) StopRequested() bool {
	return r.stopRequested.Load()
}

// LastSignal returns the most recently delivered stop signal, or 0 if
// none arrived yet.
func (r *SignalRelay) LastSignal() syscall.Signal {
	return syscall.Signal(r.lastSig.Load())
}

// PollForward returns the signal awaiting relay to the child and clears
// the pending flag. The second return is false when nothing is pending.
func (r *SignalRelay) PollForward() (syscall.Signal, bool) {
	if !r.pendingForward.CompareAndSwap(true, false) {
		return 0, false
	}
	return syscall.Signal(r.lastSig.Load()), true
}

// RequestStop sets the stop flags as if a SIGTERM had been delivered.
// The file watcher and tests use it to drive the loop without real
// signals.
func (r *SignalRelay) RequestStop(sig syscall.Signal) {
	r.lastSig.Store(int32(sig))
	r.stopRequested.Store(true)
	r.pendingForward.Store(true)
}
