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

package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// Standard field keys for structured logging.
// These constants ensure consistent field naming across the codebase.
const (
	// ServiceKey is the field key for the supervised service name.
	ServiceKey = "service"
	// StreamKey is the field key for the child output stream ("stdout" or "stderr").
	StreamKey = "stream"
	// PIDKey is the field key for process identifiers.
	PIDKey = "pid"
	// RunIDKey is the field key for supervisor session identifiers.
	RunIDKey = "run_id"
	// LaunchIDKey is the field key for individual child launch identifiers.
	LaunchIDKey = "launch_id"
	// EventKey is the field key for lifecycle event types.
	EventKey = "event"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Default: info
	Level string

	// Format sets the output format (json, text).
	// Default: json, or text when stderr is a terminal
	Format Format

	// Output is the writer for log output.
	// Default: os.Stderr
	Output io.Writer

	// AddSource adds source file and line information to logs.
	// Default: false
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
// The format defaults to text when stderr is attached to a terminal
// and JSON otherwise, so interactive use stays readable while
// detached supervisors emit machine-parseable records.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    defaultFormat(),
		Output:    os.Stderr,
		AddSource: false,
	}
}

func defaultFormat() Format {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return FormatText
	}
	return FormatJSON
}

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - STEWARD_DEBUG: true/1 to enable debug level and source logging (takes precedence)
//   - STEWARD_LOG_LEVEL: debug, info, warn, error (takes precedence over LOG_LEVEL)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, text (default: json unless stderr is a terminal)
//   - LOG_SOURCE: 1 to enable source file/line (default: 0)
func FromEnv() *Config {
	cfg := DefaultConfig()

	// STEWARD_DEBUG enables debug logging and source information
	debug := os.Getenv("STEWARD_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	// STEWARD_LOG_LEVEL takes precedence over LOG_LEVEL (but not STEWARD_DEBUG)
	if debug == "" {
		if level := os.Getenv("STEWARD_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		} else if level := os.Getenv("LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(output, opts)
	case FormatJSON:
		fallthrough
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// RotationConfig controls size-based rotation of a file log target.
type RotationConfig struct {
	// MaxSizeMB is the maximum size in megabytes before rotation.
	// Default: 50
	MaxSizeMB int
	// MaxBackups is the number of rotated files to retain.
	// Default: 5
	MaxBackups int
	// MaxAgeDays is the maximum age in days of a rotated file.
	// Default: 0 (no age limit)
	MaxAgeDays int
	// Compress gzips rotated files.
	Compress bool
}

// NewRotatingWriter returns a writer that appends to path and rotates
// the file by size. The writer is safe for concurrent use and creates
// missing parent directories on first write.
func NewRotatingWriter(path string, rc RotationConfig) io.WriteCloser {
	if rc.MaxSizeMB <= 0 {
		rc.MaxSizeMB = 50
	}
	if rc.MaxBackups <= 0 {
		rc.MaxBackups = 5
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rc.MaxSizeMB,
		MaxBackups: rc.MaxBackups,
		MaxAge:     rc.MaxAgeDays,
		Compress:   rc.Compress,
	}
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a new logger with a component name field.
// Component names help identify which part of the system generated the log.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithService returns a new logger carrying the supervised service name.
func WithService(logger *slog.Logger, service string) *slog.Logger {
	return logger.With(slog.String(ServiceKey, service))
}

// WithRunID returns a new logger carrying the supervisor session identifier.
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With(slog.String(RunIDKey, runID))
}

// Attr creates a new attribute with the given key and value.
func Attr(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// String creates a string attribute.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Int creates an int attribute.
func Int(key string, value int) slog.Attr {
	return slog.Int(key, value)
}

// Bool creates a bool attribute.
func Bool(key string, value bool) slog.Attr {
	return slog.Bool(key, value)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
