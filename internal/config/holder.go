// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package config

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/streamvault/douyu-archiver/internal/log"
)

// Holder holds configuration with atomic hot-reload capability, grounded on
// the ConfigHolder pattern (internal/config/reload.go). Readers call
// Snapshot() once at task entry and use the returned value for the whole
// task, per spec.md §9 "Feature-flag surface" — flags are consulted only at
// task entry, never re-read mid-task.
type Holder struct {
	loader   *Loader
	snapshot atomic.Pointer[FileConfig]
	watcher  *fsnotify.Watcher
}

// NewHolder loads the initial configuration and starts watching its file
// for changes. Callers must call Close to stop the watcher.
func NewHolder(loader *Loader) (*Holder, error) {
	initial, err := loader.Load()
	if err != nil {
		return nil, err
	}

	h := &Holder{loader: loader}
	h.snapshot.Store(&initial)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot reload is a convenience, not a correctness requirement; keep
		// serving the initial snapshot if the watcher cannot start.
		log.WithComponent("config").Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
		return h, nil
	}
	if err := watcher.Add(filepath.Dir(loader.configPath)); err != nil {
		_ = watcher.Close()
		log.WithComponent("config").Warn().Err(err).Msg("config watch failed, hot reload disabled")
		return h, nil
	}
	h.watcher = watcher
	go h.watch()
	return h, nil
}

// Snapshot returns the current configuration. The returned value is
// immutable; callers must not mutate it.
func (h *Holder) Snapshot() FileConfig {
	return *h.snapshot.Load()
}

func (h *Holder) watch() {
	logger := log.WithComponent("config")
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(h.loader.configPath) {
				continue
			}
			cfg, err := h.loader.Load()
			if err != nil {
				logger.Error().Err(err).Msg("config reload failed, keeping previous snapshot")
				continue
			}
			h.snapshot.Store(&cfg)
			logger.Info().Msg("config reloaded")
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

// Close stops the file watcher, if any.
func (h *Holder) Close() error {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Close()
}
