// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package diag provides startup diagnostics: the transcoder binary is
// executable, the chat-log/staging directories are writable, and the
// sqlite file is reachable (SPEC_FULL.md §4.14 "Startup diagnostics").
// Follows the internal/health/startup.go pre-flight-check shape,
// rewritten as a slice-of-results report rather than an error-returning
// gate, so a manual trigger can surface it as an informational payload
// (spec.md §7).
package diag

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Result is the outcome of one diagnostic check.
type Result struct {
	Name string
	OK   bool
	Err  string // empty when OK
}

// Config names the paths and binaries this module depends on at runtime.
type Config struct {
	TranscoderBinPath string
	ProcessingDir     string
	StagingDir        string
	DatabasePath      string
}

// Check runs every startup diagnostic and returns one Result per check, in
// a fixed order, never stopping early — every check always runs so the
// caller sees the complete picture in one payload.
func Check(cfg Config) []Result {
	return []Result{
		checkTranscoderBinary(cfg.TranscoderBinPath),
		checkWritableDir("processing directory", cfg.ProcessingDir),
		checkWritableDir("staging directory", cfg.StagingDir),
		checkDatabaseReachable(cfg.DatabasePath),
	}
}

func ok(name string) Result  { return Result{Name: name, OK: true} }
func fail(name string, err error) Result {
	return Result{Name: name, OK: false, Err: err.Error()}
}

func checkTranscoderBinary(binPath string) Result {
	const name = "transcoder binary executable"
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if _, err := exec.LookPath(binPath); err != nil {
		return fail(name, fmt.Errorf("transcoder binary %q not found: %w", binPath, err))
	}
	return ok(name)
}

func checkWritableDir(label, path string) Result {
	if path == "" {
		return fail(label, fmt.Errorf("path not configured"))
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(label, fmt.Errorf("%s: %w", path, err))
	}
	if !info.IsDir() {
		return fail(label, fmt.Errorf("%s: not a directory", path))
	}

	probe := filepath.Join(path, ".diag_write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fail(label, fmt.Errorf("%s: not writable: %w", path, err))
	}
	_ = os.Remove(probe)

	return ok(label)
}

func checkDatabaseReachable(path string) Result {
	const name = "sqlite database reachable"
	if path == "" {
		return fail(name, fmt.Errorf("path not configured"))
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(1000)")
	if err != nil {
		return fail(name, err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		return fail(name, err)
	}
	return ok(name)
}
