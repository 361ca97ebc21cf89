// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch observes a project tree for source changes and batches
// them for the generation pipeline.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler is called with the deduplicated set of changed source
// paths once the debounce window closes.
type ChangeHandler func(paths []string)

// Options configures a SourceWatcher.
type Options struct {
	// DebounceWindow is how long to wait for further changes before
	// invoking the handler. Default: 500ms.
	DebounceWindow time.Duration

	// IgnoreDirs are directory names skipped entirely.
	// Default: .git, node_modules, dist, build, coverage.
	IgnoreDirs []string

	// Extensions are the source file extensions that trigger the
	// handler. Default: .ts, .tsx, .js, .jsx.
	Extensions []string

	// BufferSize is the pending-change channel capacity. Default: 256.
	BufferSize int

	// Logger receives watcher diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the defaults described on Options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 500 * time.Millisecond,
		IgnoreDirs:     []string{".git", "node_modules", "dist", "build", "coverage"},
		Extensions:     []string{".ts", ".tsx", ".js", ".jsx"},
		BufferSize:     256,
	}
}

// SourceWatcher watches a project root for source file changes with
// debouncing, so a burst of editor saves produces one pipeline run.
//
// Description:
//
//	Recursively watches the root directory. Events for non-source
//	files, test files, and ignored directories are dropped. Remaining
//	paths are collected until the debounce window closes without a
//	new event, then handed to the handler as one deduplicated batch.
//
// Thread Safety: Safe for concurrent use. The handler is called from
// a single goroutine.
type SourceWatcher struct {
	root       string
	watcher    *fsnotify.Watcher
	handler    ChangeHandler
	debounce   time.Duration
	ignoreDirs []string
	extensions []string
	logger     *slog.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewSourceWatcher creates a watcher for root. Call Start to begin
// watching and Stop to release the underlying watcher.
func NewSourceWatcher(root string, handler ChangeHandler, opts *Options) (*SourceWatcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = 500 * time.Millisecond
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultOptions().Extensions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &SourceWatcher{
		root:       root,
		watcher:    watcher,
		handler:    handler,
		debounce:   opts.DebounceWindow,
		ignoreDirs: opts.IgnoreDirs,
		extensions: opts.Extensions,
		logger:     logger,
		changes:    make(chan string, opts.BufferSize),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the root and all subdirectories. It returns
// immediately; events are processed on background goroutines until
// Stop is called or the context is canceled.
func (w *SourceWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher and releases its OS resources.
func (w *SourceWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *SourceWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

func (w *SourceWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignoredDir(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// ignoredDir reports whether any path element names an ignored
// directory.
func (w *SourceWatcher) ignoredDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		for _, dir := range w.ignoreDirs {
			if part == dir {
				return true
			}
		}
	}
	return false
}

// relevant reports whether a changed path should reach the handler:
// a watched source extension that is not itself a test file.
func (w *SourceWatcher) relevant(path string) bool {
	if w.ignoredDir(filepath.Dir(path)) {
		return false
	}
	ext := filepath.Ext(path)
	supported := false
	for _, e := range w.extensions {
		if ext == e {
			supported = true
			break
		}
	}
	if !supported {
		return false
	}
	base := filepath.Base(path)
	if strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") {
		return false
	}
	return !strings.Contains(filepath.ToSlash(path), "__tests__/")
}

func (w *SourceWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// New directories join the watch set so nested saves
			// are still seen.
			if event.Op.Has(fsnotify.Create) && !w.ignoredDir(event.Name) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
					continue
				}
			}

			if event.Op.Has(fsnotify.Chmod) {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}

			select {
			case w.changes <- event.Name:
			default:
				w.logger.Warn("Dropping change event, buffer full",
					slog.String("path", event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop batches changes and invokes the handler once the
// window closes without a new event.
func (w *SourceWatcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		w.handler(paths)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			flush()
		}
	}
}
