// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package ports declares the interfaces this module uses to talk to
// collaborators outside its control: the external transcoder process, the
// subtitle converter, and the upload client (spec.md §6), following the
// internal/domain/session/ports split of types vs. behavior.
package ports

import "context"

// SubmissionMeta is the metadata required to submit a new video (spec.md §6).
type SubmissionMeta struct {
	Title       string
	Description string
	Tags        []string
	CoverPath   string
	PartName    string
}

// ConvertParams are the parameters for an XML-to-ASS subtitle conversion.
type ConvertParams struct {
	InputPath  string
	OutputPath string
}

// SubtitleConverter converts a C2-produced chat-log XML document into a
// subtitle track suitable for attaching to an upload.
type SubtitleConverter interface {
	ConvertXMLToASS(ctx context.Context, p ConvertParams) error
}

// TranscodeSpec is everything C4 needs to launch the external transcoder.
type TranscodeSpec struct {
	URL             string
	Headers         map[string]string
	OutPath         string // must end in ".part"
	DurationSeconds int
}

// Transcoder launches and supervises the external media process invoked by
// C4 in byte-copy mode with a hard duration cap (spec.md §4.4).
type Transcoder interface {
	// Run starts the process and blocks until it exits or the duration cap
	// elapses. It returns the process exit code; a nonzero code is not
	// itself an error.
	Run(ctx context.Context, spec TranscodeSpec) (exitCode int, err error)

	// Stop requests a graceful terminate of the in-flight Run call, waiting
	// up to the implementation's grace period before force-killing
	// (spec.md §4.4 "signal the child with a graceful terminate; wait up to
	// 10 seconds; then force-kill").
	Stop(ctx context.Context) error

	// StderrTail returns the last n lines of captured standard error,
	// surfaced on failure (spec.md §4.4).
	StderrTail(n int) []string
}

// UploadClient is the narrow surface C9 needs against the destination
// platform's upload API (spec.md §6).
type UploadClient interface {
	CheckLogin(ctx context.Context) (bool, error)
	UploadNew(ctx context.Context, path string, meta SubmissionMeta) (ok bool, err error)
	AppendPart(ctx context.Context, path, parentID, cdn, partName string) (ok bool, err error)
	Feed(ctx context.Context, size int, statusSet []string) (map[string]string, error)
}
