// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package classify defines the system's error taxonomy (spec.md §7) as
// sentinel errors, one per failure mode, wrapped with %w rather than
// matched by string. Follows the per-package errors.go
// convention (internal/config/errors.go, internal/openwebif/errors.go).
package classify

import "errors"

var (
	// ErrTransient marks network timeouts, 5xx responses, WebSocket drops.
	// Policy: bounded retry with backoff at the closest operation.
	ErrTransient = errors.New("transient error")

	// ErrAuth marks a failed login check or a credential-rejected upload.
	// Policy: abort the current task, do not retry, log prominently.
	ErrAuth = errors.New("authentication error")

	// ErrResolve marks stream URL resolution that exhausted its retry budget.
	// Policy: leave the segment coordinator OFFLINE for this live interval.
	ErrResolve = errors.New("stream resolve exhausted retries")

	// ErrDegraded marks a chat collector whose reconnect budget is exhausted.
	// Policy: close the chat log cleanly, continue video recording.
	ErrDegraded = errors.New("chat collector degraded")

	// ErrData marks malformed chat frames or unparsable filenames.
	// Policy: skip the offending item, count it, do not abort.
	ErrData = errors.New("malformed data")

	// ErrFatal marks an unreachable database or missing required config.
	// Policy: fail fast at startup; after startup, log and keep serving
	// other streamers if possible.
	ErrFatal = errors.New("fatal error")
)

// Is reports whether err is classified as the given sentinel, unwrapping as
// errors.Is does.
func Is(err, sentinel error) bool {
	return errors.Is(err, sentinel)
}
