// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPrefix namespaces environment-variable overrides, following an
// env.go-style precedence model (file < env < hard defaults is not the
// order here — env overrides file, matching the "env wins" rule).
const envPrefix = "DOUYUARCHIVER_"

// Loader loads FileConfig from a path and layers environment-variable
// overrides on top, same precedence as internal/config.Loader.
type Loader struct {
	configPath string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a Loader for configPath using the OS environment.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath, lookupEnv: os.LookupEnv}
}

// Load reads, overlays and validates configuration.
func (l *Loader) Load() (FileConfig, error) {
	raw, err := os.ReadFile(l.configPath)
	if err != nil {
		return FileConfig{}, fmt.Errorf("%w: read %s: %v", ErrInvalid, l.configPath, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, l.configPath, err)
	}

	l.applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return FileConfig{}, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays a handful of environment variables onto cfg,
// following the "env wins over file" precedence.
func (l *Loader) applyEnvOverrides(cfg *FileConfig) {
	if v, ok := l.lookupEnv(envPrefix + "LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := l.lookupEnv(envPrefix + "REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := l.lookupEnv(envPrefix + "SEGMENT_DURATION_MINUTES"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Recording.SegmentDurationMinutes = n
		}
	}
}

// Validate rejects nonsensical configuration at load time (spec.md §8
// "Segment duration of zero is rejected at config load.").
func Validate(cfg FileConfig) error {
	if cfg.Recording.SegmentDurationMinutes <= 0 {
		return fmt.Errorf("%w: recording.segmentDurationMinutes must be > 0", ErrInvalid)
	}
	if len(cfg.Streamers) == 0 {
		return fmt.Errorf("%w: streamers list must not be empty", ErrInvalid)
	}
	for _, s := range cfg.Streamers {
		if s.Name == "" || s.Room == "" {
			return fmt.Errorf("%w: streamer entries require name and room", ErrInvalid)
		}
	}
	if cfg.Paths.ProcessingDir == "" {
		return fmt.Errorf("%w: paths.processingDir is required", ErrInvalid)
	}
	if cfg.Paths.DatabasePath == "" {
		return fmt.Errorf("%w: paths.databasePath is required", ErrInvalid)
	}
	return nil
}
