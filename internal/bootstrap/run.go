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

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/steward/internal/config"
	"github.com/tombee/steward/internal/filewatcher"
	"github.com/tombee/steward/internal/lifecycle"
	"github.com/tombee/steward/internal/log"
	"github.com/tombee/steward/internal/logfwd"
	"github.com/tombee/steward/internal/metrics"
	"github.com/tombee/steward/internal/supervisor"
)

// RunOptions configures the detached supervisor. The foreground half
// fills the override fields from its flag-merged configuration; a
// manual invocation may leave them zero and rely on the file alone.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// ConfigPath is the configuration file to load. Empty means
	// defaults only.
	ConfigPath string

	// LockInherited means the spawning foreground passed the locked
	// pid file descriptor as fd 3. Without it fd 3 is never touched;
	// a stray inherited descriptor must not be mistaken for the lock.
	LockInherited bool

	// Overrides the foreground resolved. Empty strings keep the file's
	// values; Restart below zero keeps the file's interval.
	Service string
	PIDFile string
	Restart time.Duration

	// Command is the child argv. Overrides the file when non-empty.
	Command []string
}

// Run is the detached supervisor's entire life: adopt the pid file
// lock, set up file logging, supervise the child through the restart
// loop, and clean up. The returned status is the child's last exit
// code, or the number of the signal that killed it, and becomes this
// process's own exit status.
//
// Stdout and stderr point at /dev/null once detached; the stderr
// logger below only surfaces during manual --supervise-child runs.
func Run(opts RunOptions) int {
	boot := log.New(log.FromEnv())
	slog.SetDefault(boot)

	root, err := ResolveRoot()
	if err != nil {
		boot.Error("failed to enter installation root", log.Error(err))
		return 1
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		boot.Error("failed to load config", log.Error(err))
		return 1
	}
	if opts.Service != "" {
		cfg.Service = opts.Service
	}
	if opts.PIDFile != "" {
		cfg.PIDFile = opts.PIDFile
	}
	if opts.Restart >= 0 {
		cfg.RestartInterval = opts.Restart
	}
	if len(opts.Command) > 0 {
		cfg.Command = opts.Command
	}
	if len(cfg.Command) == 0 {
		boot.Error("no command to supervise")
		return 1
	}

	pf, err := adoptPIDFile(cfg.PIDFile, opts.LockInherited)
	if err != nil {
		boot.Error("failed to take pid file lock", log.Error(err))
		return 1
	}

	runID := uuid.NewString()
	rotating := log.NewRotatingWriter(cfg.Log.File, log.RotationConfig{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer rotating.Close()

	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
		Output: rotating,
	})
	logger = log.WithService(logger, cfg.Service)
	logger = log.WithRunID(logger, runID)
	slog.SetDefault(logger)

	logger.Info("supervisor starting",
		slog.String("version", opts.Version),
		slog.Int(log.PIDKey, os.Getpid()),
		slog.String("root", root),
		slog.Any("command", cfg.Command),
		slog.Duration("restart_interval", cfg.RestartInterval))

	// Signals must be armed before the pid is published: the instant
	// the pid file names this process, a stop may arrive.
	relay := supervisor.NewSignalRelay()
	relay.Install()
	defer relay.Uninstall()

	if err := pf.WriteSelf(); err != nil {
		logger.Error("failed to write pid file", log.Error(err))
		pf.Cleanup()
		return 1
	}

	events := lifecycle.NewEventLog(cfg.EventsPath(), cfg.Service, runID)
	if err := events.SupervisorStarted(os.Getpid()); err != nil {
		logger.Warn("failed to record lifecycle event", log.Error(err))
	}

	var rec *metrics.Recorder
	var msrv *metrics.Server
	if cfg.Metrics.Listen != "" {
		rec = metrics.NewRecorder(cfg.Service)
		msrv = metrics.NewServer(cfg.Metrics.Listen, rec, logger)
		if err := msrv.Start(); err != nil {
			logger.Error("failed to start metrics server", log.Error(err))
			msrv = nil
		} else {
			logger.Info("metrics server listening", slog.String("addr", msrv.Addr()))
		}
	}

	supCfg := supervisor.Config{
		Command: cfg.Command,
		Restart: supervisor.RestartPolicy{
			Interval:  cfg.RestartInterval,
			SleepStep: time.Second,
		},
		Logger:  logger,
		Relay:   relay,
		Forward: logfwd.New(logger, cfg.Service),
		Events:  events,
	}
	if rec != nil {
		supCfg.Metrics = rec
	}
	sup, err := supervisor.New(supCfg)
	if err != nil {
		logger.Error("failed to create supervisor", log.Error(err))
		pf.Cleanup()
		return 1
	}

	var watcher *filewatcher.Watcher
	if cfg.Watch.Enabled {
		watcher, err = filewatcher.New(filewatcher.Config{
			Paths:    cfg.Watch.Paths,
			Include:  cfg.Watch.Include,
			Exclude:  cfg.Watch.Exclude,
			Debounce: cfg.Watch.Debounce,
		}, func([]string) { sup.TriggerRestart() }, logger)
		if err != nil {
			// The service still runs without restart-on-change; the
			// degradation is visible in the log.
			logger.Error("file watching disabled", log.Error(err))
		} else {
			watcher.Start()
		}
	}

	status := sup.Run()

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop file watcher", log.Error(err))
		}
	}
	if msrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := msrv.Shutdown(ctx); err != nil {
			logger.Warn("failed to stop metrics server", log.Error(err))
		}
		cancel()
	}
	if err := events.SupervisorExited(os.Getpid(), status); err != nil {
		logger.Warn("failed to record lifecycle event", log.Error(err))
	}
	if err := pf.Cleanup(); err != nil {
		logger.Warn("failed to clean up pid file", log.Error(err))
	}

	logger.Info("supervisor exiting", slog.Int("status", status))
	return status
}

// adoptPIDFile picks up the locked descriptor the foreground passed as
// fd 3, or takes the lock directly when the binary was run by hand.
// The inherited path is only entered on the foreground's explicit
// say-so; fd 3 being open proves nothing by itself.
func adoptPIDFile(path string, inherited bool) (*lifecycle.PIDFile, error) {
	if inherited {
		f := os.NewFile(uintptr(pidFileFD), path)
		if f == nil {
			return nil, fmt.Errorf("lock descriptor fd %d was not inherited", pidFileFD)
		}
		if _, err := f.Stat(); err != nil {
			return nil, fmt.Errorf("inherited lock descriptor is not usable: %w", err)
		}
		return lifecycle.Adopt(path, f), nil
	}

	pf := lifecycle.NewPIDFile(path)
	if err := pf.Open(); err != nil {
		return nil, err
	}
	locked, err := pf.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("pid file %s is locked by another supervisor", path)
	}
	return pf, nil
}
