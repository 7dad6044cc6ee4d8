// Copyright 2026 © The Larder Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls configuration files for changes and reloads. The daemon uses
// it to hot-reload guardrail rules without a restart: it watches both the
// main config file and the guardrails file it references.
type Watcher struct {
	mu          sync.RWMutex
	configPath  string
	paths       []string
	interval    time.Duration
	lastModTime map[string]time.Time
	config      *Config
	listeners   []func(*Config)
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher for the config file at configPath. The
// guardrails file named by the loaded config is watched as well, so edits to
// either trigger a reload.
func NewWatcher(configPath string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		configPath:  configPath,
		interval:    1 * time.Second,
		lastModTime: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	w.paths = watchPaths(configPath, cfg)

	for _, path := range w.paths {
		if info, err := os.Stat(path); err == nil {
			w.lastModTime[path] = info.ModTime()
		}
	}
	return w, nil
}

func watchPaths(configPath string, cfg *Config) []string {
	paths := make([]string, 0, 2)
	if configPath != "" {
		paths = append(paths, configPath)
	}
	if cfg.Policy.GuardrailsFile != "" {
		paths = append(paths, cfg.Policy.GuardrailsFile)
	}
	return paths
}

// OnChange registers a callback invoked with the fresh config after each
// successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching for changes.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops the watcher and waits for the poll loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		lastMod, exists := w.lastModTime[path]
		if !exists || info.ModTime().After(lastMod) {
			w.lastModTime[path] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	w.logger.Info("config.changed", "paths", w.paths)

	cfg, err := Load(w.configPath)
	if err != nil {
		w.logger.Error("config.reload.failed", "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	w.paths = watchPaths(w.configPath, cfg)
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reloaded")

	for _, fn := range listeners {
		fn(cfg)
	}
}
