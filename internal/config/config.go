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

// Package config loads the steward configuration file. Values resolve
// in order: built-in defaults, then the YAML file, then environment
// variables; command-line flags override all of these at the CLI layer.
// Relative paths are relative to the steward root directory, which the
// supervisor chdirs into before anything here is opened.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// DefaultPath is the config file location under the steward root.
const DefaultPath = "conf/steward.yaml"

// Config is the complete steward configuration.
type Config struct {
	// Service names the supervised service in output, logs, and events.
	// Default: steward
	Service string `yaml:"service,omitempty"`

	// Command is the child command line to supervise. A command given
	// on the command line replaces it entirely.
	Command []string `yaml:"command,omitempty"`

	// PIDFile is where the supervisor records and locks its pid.
	// Default: steward.pid
	PIDFile string `yaml:"pid_file,omitempty"`

	// RestartInterval is the minimum time between child starts. Zero
	// disables restarting.
	RestartInterval time.Duration `yaml:"restart_interval,omitempty"`

	// StopCommand, when set, replaces the SIGTERM the stop mode would
	// send; it runs through the shell.
	StopCommand string `yaml:"stop_command,omitempty"`

	Log     LogConfig     `yaml:"log,omitempty"`
	Events  EventsConfig  `yaml:"events,omitempty"`
	Watch   WatchConfig   `yaml:"watch,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// LogConfig configures the detached supervisor's log sink.
type LogConfig struct {
	// File receives supervisor and forwarded child log records.
	// Default: logs/steward.log
	File string `yaml:"file,omitempty"`

	// Level is debug, info, warn, or error.
	// Environment: STEWARD_LOG_LEVEL
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format is json or text.
	// Environment: STEWARD_LOG_FORMAT
	// Default: json
	Format string `yaml:"format,omitempty"`

	// Rotation limits, passed straight to the rotating writer.
	MaxSizeMB  int  `yaml:"max_size_mb,omitempty"`
	MaxBackups int  `yaml:"max_backups,omitempty"`
	MaxAgeDays int  `yaml:"max_age_days,omitempty"`
	Compress   bool `yaml:"compress,omitempty"`
}

// EventsConfig configures the lifecycle event log.
type EventsConfig struct {
	// File is the JSONL event log path. Default: logs/steward-events.log
	File string `yaml:"file,omitempty"`

	// Disabled turns event recording off entirely.
	Disabled bool `yaml:"disabled,omitempty"`
}

// WatchConfig configures restart-on-change.
type WatchConfig struct {
	Enabled bool     `yaml:"enabled,omitempty"`
	Paths   []string `yaml:"paths,omitempty"`
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`

	// Debounce is the quiet window before a change bounces the child.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce,omitempty"`
}

// MetricsConfig configures the optional metrics listener.
type MetricsConfig struct {
	// Listen is the host:port for /metrics and /healthz. Empty
	// disables the listener.
	Listen string `yaml:"listen,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: "steward",
		PIDFile: "steward.pid",
		Log: LogConfig{
			File:       "logs/steward.log",
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
		Events: EventsConfig{
			File: "logs/steward-events.log",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load reads the configuration from path. An empty path yields the
// defaults; a non-empty path must exist and parse.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values back in, so a minimal file does not
// wipe out a default by mentioning the enclosing section.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Service == "" {
		c.Service = defaults.Service
	}
	if c.PIDFile == "" {
		c.PIDFile = defaults.PIDFile
	}
	if c.Log.File == "" {
		c.Log.File = defaults.Log.File
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = defaults.Log.MaxBackups
	}
	if c.Events.File == "" {
		c.Events.File = defaults.Events.File
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = defaults.Watch.Debounce
	}
}

// loadFromEnv applies environment overrides on top of file values.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("STEWARD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("STEWARD_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks the configuration, collecting every problem rather
// than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Service) == "" {
		errs = append(errs, "service must not be empty")
	}
	if c.RestartInterval < 0 {
		errs = append(errs, fmt.Sprintf("restart_interval must not be negative, got %v", c.RestartInterval))
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not recognized", c.Log.Level))
	}

	if c.Watch.Enabled && len(c.Watch.Paths) == 0 {
		errs = append(errs, "watch.enabled requires at least one watch.paths entry")
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Sprintf("watch.debounce must not be negative, got %v", c.Watch.Debounce))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// EventsPath returns the event log path, or empty when events are
// disabled.
func (c *Config) EventsPath() string {
	if c.Events.Disabled {
		return ""
	}
	return c.Events.File
}
