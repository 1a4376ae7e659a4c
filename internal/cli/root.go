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

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/steward/internal/bootstrap"
	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/lifecycle"
	"github.com/tombee/steward/internal/log"
)

// Version information, set from main via SetVersion.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// rootOptions holds the flag values for the root command. Zero values
// mean "not given"; the configuration file supplies the rest.
type rootOptions struct {
	service     string
	restartSec  int
	pidFile     string
	stopCommand string
	stop        bool
	configPath  string
	logLevel    string
	logFormat   string
}

// NewRootCommand creates the root Cobra command for steward.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "steward [flags] program [args ...]",
		Short: "Run a service under a supervising restart loop",
		Long: `Steward keeps a single service process running: it detaches from the
terminal, captures the service's stdout and stderr into the structured
log, relays stop signals, and restarts the service when it exits.

Started twice, the second start is a no-op that reports the running pid.
The -S flag stops the supervised service and the supervisor together.`,
		Example: `  steward -s webapp -r 30 /usr/local/bin/webapp --port 8080
  steward -S
  steward -p run/webapp.pid -k 'webapp-ctl stop' -S`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	// The first non-flag argument starts the supervised program's own
	// argv; its flags must pass through untouched.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringVarP(&opts.service, "service", "s", "", "service name used in logs and events")
	cmd.Flags().IntVarP(&opts.restartSec, "restart", "r", -1, "restart interval in seconds (0 disables restarting)")
	cmd.Flags().StringVarP(&opts.pidFile, "pidfile", "p", "", "pid file path, relative to the installation root")
	cmd.Flags().StringVarP(&opts.stopCommand, "stop-command", "k", "", "shell command -S runs instead of signaling the process group")
	cmd.Flags().BoolVarP(&opts.stop, "stop", "S", false, "stop the running service instead of starting one")
	cmd.Flags().StringVar(&opts.configPath, "config", "", fmt.Sprintf("config file path (default %s under the installation root)", config.DefaultPath))
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "minimum log level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "log output format: json, text")

	return cmd
}

// run validates the flag combination, merges flags over the
// configuration file, and dispatches to start or stop.
func run(opts *rootOptions, args []string) error {
	if opts.stop {
		if len(args) > 0 {
			return NewUsageError("-S stop mode takes no program arguments")
		}
	} else {
		if len(args) == 0 {
			return NewUsageError("a program to supervise is required")
		}
		if opts.stopCommand != "" {
			return NewUsageError("-k/--stop-command only applies to -S stop mode")
		}
	}

	if _, err := bootstrap.ResolveRoot(); err != nil {
		return NewFailure("failed to enter installation root", err)
	}

	// An explicit --config must exist; the default path is loaded only
	// when present.
	configPath := opts.configPath
	if configPath == "" {
		if _, err := os.Stat(config.DefaultPath); err == nil {
			configPath = config.DefaultPath
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return NewFailure("failed to load config", err)
	}

	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return NewUsageError(err.Error())
	}

	if opts.stop {
		return runStop(cfg)
	}
	cfg.Command = args
	return runStart(cfg, configPath)
}

// applyFlags lays the given flags over the loaded configuration. Flags
// always win; absent flags keep the file's values.
func applyFlags(cfg *config.Config, opts *rootOptions) {
	if opts.service != "" {
		cfg.Service = opts.service
	}
	if opts.pidFile != "" {
		cfg.PIDFile = opts.pidFile
	}
	if opts.restartSec >= 0 {
		cfg.RestartInterval = time.Duration(opts.restartSec) * time.Second
	}
	if opts.stopCommand != "" {
		cfg.StopCommand = opts.stopCommand
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
}

// runStop drives the stop ladder against the recorded supervisor.
// Progress goes to stdout for the operator; an audit line lands in the
// service log.
func runStop(cfg *config.Config) error {
	sc := lifecycle.NewStopController(cfg.PIDFile)
	sc.StopCommand = cfg.StopCommand
	sc.Logger = serviceLogger(cfg)
	if err := sc.Run(); err != nil {
		return NewFailure("failed to stop", err)
	}
	return nil
}

func runStart(cfg *config.Config, configPath string) error {
	err := bootstrap.Start(bootstrap.StartOptions{
		Config:     cfg,
		ConfigPath: configPath,
	})
	if err != nil {
		return NewFailure("failed to start", err)
	}
	return nil
}

// serviceLogger writes to the same rotating file the supervisor uses,
// so stop attempts appear in the service's own log.
func serviceLogger(cfg *config.Config) *slog.Logger {
	rotating := log.NewRotatingWriter(cfg.Log.File, log.RotationConfig{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
		Output: rotating,
	})
	return log.WithService(logger, cfg.Service)
}
