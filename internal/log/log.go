// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package log provides the process-wide structured logger.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the global logger.
type Config struct {
	Level   string    // "debug", "info", "warn", "error" — default "info"
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every record, default "douyu-archiver"
}

var (
	mu       sync.RWMutex
	base     zerolog.Logger
	ring     = newRecordRing(200)
	initOnce sync.Once
)

// Configure initializes the global logger. Safe to call once at startup;
// subsequent calls replace the base logger (used in tests).
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = "douyu-archiver"
	}

	multi := io.MultiWriter(out, ring)
	base = zerolog.New(multi).With().Timestamp().Str("service", service).Logger()
}

func ensureInit() {
	initOnce.Do(func() {
		mu.RLock()
		needInit := base.GetLevel() == zerolog.Disabled && !base.Debug().Enabled()
		mu.RUnlock()
		if needInit {
			Configure(Config{})
		}
	})
}

// WithComponent returns a child logger tagged with the given component name,
// e.g. log.WithComponent("resolver").
func WithComponent(name string) zerolog.Logger {
	ensureInit()
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", name).Logger()
}

// WithStreamer returns a child logger additionally tagged with the streamer name.
func WithStreamer(component, streamer string) zerolog.Logger {
	return WithComponent(component).With().Str("streamer", streamer).Logger()
}

// RecentRecords returns up to n of the most recently logged records, newest
// last. Used to build the informational payload manual triggers return
// (spec.md §7 "Manual triggers return an informational payload").
func RecentRecords(n int) []string {
	return ring.lastN(n)
}
