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

// Package metrics exposes supervision counters over Prometheus. It is
// optional: nothing here runs unless a listen address is configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the supervision collectors on its own registry, so two
// recorders never collide and tests do not share state through a global.
type Recorder struct {
	registry *prometheus.Registry

	restarts prometheus.Counter
	crashes  prometheus.Counter
	signals  prometheus.Counter
	lines    *prometheus.CounterVec
	childUp  prometheus.Gauge
	started  prometheus.Gauge
}

// NewRecorder creates a Recorder with all collectors registered. The
// service name becomes a constant label on every series.
func NewRecorder(service string) *Recorder {
	labels := prometheus.Labels{"service": service}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "steward_child_restarts_total",
			Help:        "Number of times the child was relaunched.",
			ConstLabels: labels,
		}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "steward_child_crashes_total",
			Help:        "Number of child exits with a non-zero code.",
			ConstLabels: labels,
		}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "steward_child_signals_total",
			Help:        "Number of child deaths from a signal.",
			ConstLabels: labels,
		}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "steward_lines_forwarded_total",
			Help:        "Child output lines forwarded to the log, per stream.",
			ConstLabels: labels,
		}, []string{"stream"}),
		childUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "steward_child_up",
			Help:        "Whether a supervised child is currently running.",
			ConstLabels: labels,
		}),
		started: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "steward_child_start_timestamp_seconds",
			Help:        "Unix time of the most recent child start.",
			ConstLabels: labels,
		}),
	}
	r.registry.MustRegister(r.restarts, r.crashes, r.signals, r.lines, r.childUp, r.started)
	return r
}

// Registry returns the recorder's private registry for serving.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ChildStarted marks the child up and records the start time.
func (r *Recorder) ChildStarted(pid int) {
	r.childUp.Set(1)
	r.started.SetToCurrentTime()
}

// ChildExited marks the child down; non-zero codes count as crashes.
func (r *Recorder) ChildExited(exitCode int) {
	r.childUp.Set(0)
	if exitCode != 0 {
		r.crashes.Inc()
	}
}

// ChildSignaled marks the child down and counts the signal death.
func (r *Recorder) ChildSignaled(signal int, coreDump bool) {
	r.childUp.Set(0)
	r.signals.Inc()
}

// ChildRestarted counts a relaunch.
func (r *Recorder) ChildRestarted() {
	r.restarts.Inc()
}

// LineForwarded counts one forwarded output line for its stream.
func (r *Recorder) LineForwarded(stream string) {
	r.lines.WithLabelValues(stream).Inc()
}
