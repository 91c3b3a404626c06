// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package pipeline implements the in-scope half of the video-pipeline job
// (spec.md §4.10 "external processing stage then C9"): finding completed
// segment pairs in the processing directory and converting their chat-log
// XML into an ASS subtitle track (C2 → subtitle converter, spec.md §6).
// The transmux/encode step that embeds the subtitle track into the video
// and moves the result into the upload staging area is, per spec.md §1
// ("Downstream (outside the core) transmuxes/encodes the files and moves
// them to an upload staging area"), an opaque external collaborator; it is
// exposed here as an injectable PublishHook rather than implemented.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/ports"
)

// PublishHook hands a converted segment's video and subtitle paths to the
// opaque external transmux/move stage. A nil hook means no deployment-time
// collaborator is configured; Stage.Run then only performs the in-scope
// subtitle conversion and leaves the pair under ProcessingDir.
type PublishHook func(ctx context.Context, flvPath, assPath string) error

// Stage scans ProcessingDir for completed (non-.part) segment pairs whose
// chat-log XML has not yet been converted, converts each, and forwards the
// pair to Publish.
type Stage struct {
	ProcessingDir string
	Converter     ports.SubtitleConverter
	Publish       PublishHook
}

// Run performs one pass over ProcessingDir. It never returns an error for a
// single segment's conversion failure — that segment is logged and skipped,
// so one malformed chat log does not block the rest of the batch.
func (s *Stage) Run(ctx context.Context) error {
	logger := log.WithComponent("pipeline")

	entries, err := os.ReadDir(s.ProcessingDir)
	if err != nil {
		return fmt.Errorf("pipeline: read processing dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xml") {
			continue
		}

		base := strings.TrimSuffix(e.Name(), ".xml")
		xmlPath := filepath.Join(s.ProcessingDir, e.Name())
		flvPath := filepath.Join(s.ProcessingDir, base+".flv")
		assPath := filepath.Join(s.ProcessingDir, base+".ass")

		if _, err := os.Stat(flvPath); err != nil {
			// The video side isn't published yet (still ".flv.part" or
			// missing); nothing to pair this XML with this pass.
			continue
		}
		if _, err := os.Stat(assPath); err == nil {
			// Already converted in a prior pass.
			continue
		}

		if err := s.Converter.ConvertXMLToASS(ctx, ports.ConvertParams{InputPath: xmlPath, OutputPath: assPath}); err != nil {
			logger.Error().Err(err).Str("segment", base).Msg("subtitle conversion failed, leaving segment for next pass")
			continue
		}

		if s.Publish == nil {
			logger.Warn().Str("segment", base).Msg("no publish hook configured, segment left in processing dir after subtitle conversion")
			continue
		}
		if err := s.Publish(ctx, flvPath, assPath); err != nil {
			logger.Error().Err(err).Str("segment", base).Msg("publish hook failed")
		}
	}

	return nil
}
