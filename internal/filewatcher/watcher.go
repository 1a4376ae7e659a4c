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

// Package filewatcher restarts the supervised child when watched files
// change. Filesystem events are filtered through include/exclude globs
// and coalesced by a debounce window, so a burst of writes (an editor
// save, a deploy rsync) produces one restart, not one per file.
package filewatcher

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period required after the last matching
// change before the restart fires.
const DefaultDebounce = 500 * time.Millisecond

// Config selects what to watch and how long to coalesce.
type Config struct {
	// Paths are the files or directories to watch. Directories are
	// watched non-recursively.
	Paths []string

	// Include/Exclude filter changed paths; see Patterns.
	Include []string
	Exclude []string

	// Debounce is the coalescing window. Defaults to DefaultDebounce.
	Debounce time.Duration
}

// Watcher owns one fsnotify watcher and a single debounce timer. Every
// matching event restarts the timer; when the window passes quietly,
// the trigger callback runs once with the deduplicated paths.
type Watcher struct {
	patterns *Patterns
	debounce time.Duration
	trigger  func(changed []string)
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a watcher for cfg. trigger runs on the watcher's own
// goroutine after each debounced burst of matching changes.
func New(cfg Config, trigger func(changed []string), logger *slog.Logger) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	patterns, err := NewPatterns(cfg.Include, cfg.Exclude)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	for _, path := range cfg.Paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to resolve watch path %q: %w", path, err)
		}
		if err := fsw.Add(abs); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", abs, err)
		}
	}

	return &Watcher{
		patterns: patterns,
		debounce: cfg.Debounce,
		trigger:  trigger,
		logger:   logger,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	go w.loop()
	w.logger.Info("file watcher started",
		slog.Int("paths", len(w.fsw.WatchList())),
		slog.Duration("debounce", w.debounce))
}

// Stop ends the watch loop and releases the fsnotify watcher. A pending
// debounce window is abandoned, not fired.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		changed map[string]struct{}
	)
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.patterns.Match(ev.Name) {
				continue
			}

			if changed == nil {
				changed = make(map[string]struct{})
			}
			changed[ev.Name] = struct{}{}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-fire:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			paths := make([]string, 0, len(changed))
			for p := range changed {
				paths = append(paths, p)
			}
			sort.Strings(paths)

			w.logger.Info("files changed, restarting child",
				slog.Int("changes", len(paths)),
				slog.String("first", paths[0]))
			w.trigger(paths)

			changed = nil
			timer = nil
			fire = nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", slog.Any("error", err))
		}
	}
}
