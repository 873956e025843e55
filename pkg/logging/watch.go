// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Level Watcher
// =============================================================================

// defaultDebounce coalesces bursts of filesystem events (editors and
// configmap updates produce several events per logical change).
const defaultDebounce = 200 * time.Millisecond

// LevelWatcher applies log-level changes from a config file at runtime.
//
// The watcher observes the directory containing the file (atomic
// writes replace the file via rename, which would silently drop a
// watch on the file itself) and re-reads it when it changes. The file
// may be either a YAML document with a `log_level` key or a plain
// file whose content is a level name.
//
// Malformed files are ignored with a warning; the previous level
// stays in effect.
//
// # Usage
//
//	watcher, err := logging.NewLevelWatcher(configPath, logger)
//	if err != nil { ... }
//	watcher.Start(ctx)
//	defer watcher.Stop()
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. Start is
// idempotent only in the sense that calling it twice returns an error
// the second time.
type LevelWatcher struct {
	path     string
	logger   *Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	running  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewLevelWatcher creates a watcher for the given config file.
//
// The file does not need to exist yet; the watch is placed on its
// parent directory, which must exist.
func NewLevelWatcher(path string, logger *Logger) (*LevelWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &LevelWatcher{
		path:     abs,
		logger:   logger,
		watcher:  fsWatcher,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events in a background goroutine.
//
// The current file content is applied once immediately so a level set
// before the process started takes effect without an extra write.
func (w *LevelWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("level watcher already started")
	}
	w.running = true
	w.mu.Unlock()

	w.apply()

	go w.loop(ctx)
	return nil
}

// Stop terminates the watcher and releases the underlying fs watch.
func (w *LevelWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the event loop is active.
func (w *LevelWatcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// loop consumes fs events until Stop or context cancellation.
func (w *LevelWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: restart the timer on every event in a burst
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err.Error())
		case <-timerC:
			timer = nil
			timerC = nil
			w.apply()
		}
	}
}

// apply re-reads the file and updates the logger level.
func (w *LevelWatcher) apply() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// The file may legitimately not exist yet
		if !os.IsNotExist(err) {
			w.logger.Warn("read log level config failed", "path", w.path, "error", err.Error())
		}
		return
	}

	level, err := parseLevelDocument(data)
	if err != nil {
		w.logger.Warn("invalid log level config ignored", "path", w.path, "error", err.Error())
		return
	}

	if level == w.logger.Level() {
		return
	}

	w.logger.SetLevel(level)
	w.logger.Info("log level changed", "level", level.String())
}

// parseLevelDocument extracts a Level from file content.
//
// Accepts a YAML document with a `log_level` key, or a bare level
// name ("debug\n").
func parseLevelDocument(data []byte) (Level, error) {
	var doc struct {
		LogLevel string `yaml:"log_level"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.LogLevel != "" {
		return ParseLevel(doc.LogLevel)
	}
	return ParseLevel(strings.TrimSpace(string(data)))
}
