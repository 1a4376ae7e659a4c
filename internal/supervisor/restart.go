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
	"log/slog"
	"time"
)

// RestartPolicy rate-limits child relaunches: a new start happens no
// sooner than Interval after the previous one. A zero Interval disables
// restarting entirely; the child's first exit ends supervision.
type RestartPolicy struct {
	// Interval is the minimum time between consecutive child starts.
	Interval time.Duration

	// SleepStep is the increment of the restart wait, so a stop request
	// is noticed within one step. Defaults to one second.
	SleepStep time.Duration
}

// Enabled reports whether exits lead to relaunch at all.
func (p RestartPolicy) Enabled() bool {
	return p.Interval > 0
}

// NextDelay returns how long to hold off before the next start, given
// when the previous start happened. Never negative.
func (p RestartPolicy) NextDelay(lastStart, now time.Time) time.Duration {
	delay := p.Interval - now.Sub(lastStart)
	if delay < 0 {
		return 0
	}
	return delay
}

// Wait blocks until the restart delay has elapsed or stop reports true,
// sleeping in SleepStep increments. It returns false when the wait was
// cut short by a stop request.
func (p RestartPolicy) Wait(lastStart time.Time, stop func() bool, logger *slog.Logger) bool {
	step := p.SleepStep
	if step <= 0 {
		step = time.Second
	}

	if delay := p.NextDelay(lastStart, time.Now()); delay > 0 {
		logger.Info("will restart",
			slog.Int("delay_seconds", int(delay.Round(time.Second)/time.Second)))
	}

	for time.Since(lastStart) < p.Interval {
		if stop() {
			return false
		}
		time.Sleep(step)
	}
	return !stop()
}
