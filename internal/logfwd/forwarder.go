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

// Package logfwd turns supervised child output into structured log
// records. Each stdout line becomes an info record and each stderr line
// a warning record, tagged with the service name, the stream, and the
// child pid, so a child's plain-text output lands in the same pipeline
// as the supervisor's own logs.
package logfwd

import (
	"context"
	"log/slog"

	"github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/supervisor"
)

// Forwarder adapts child output lines to slog records.
type Forwarder struct {
	logger  *slog.Logger
	service string
}

// New creates a Forwarder writing through logger. The service name is
// attached to every record.
func New(logger *slog.Logger, service string) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{logger: logger, service: service}
}

// ForwardLine emits one child output line as a log record. The line
// text becomes the record message unchanged.
func (f *Forwarder) ForwardLine(pid int, line supervisor.Line) {
	level := slog.LevelInfo
	if line.Stream == supervisor.StreamStderr {
		level = slog.LevelWarn
	}
	f.logger.LogAttrs(context.Background(), level, line.Text,
		slog.String(log.ServiceKey, f.service),
		slog.String(log.StreamKey, line.Stream),
		slog.Int(log.PIDKey, pid))
}
