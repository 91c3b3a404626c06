// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package subtitle implements ports.SubtitleConverter by shelling out to an
// external XML-to-ASS converter binary (spec.md §6 "Subtitle converter:
// convertXmlToAss(font_size, sc_font_size, res_x, res_y, xml_path,
// ass_path) — pure file→file"). Grounded on internal/recorder's
// exec.CommandContext supervision pattern, scoped down to a short-lived
// one-shot process rather than a long-running supervised child.
package subtitle

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/streamvault/douyu-archiver/internal/classify"
	"github.com/streamvault/douyu-archiver/internal/ports"
)

// Converter invokes an external converter binary for each call.
type Converter struct {
	BinPath    string
	FontSize   int
	SCFontSize int
	ResX       int
	ResY       int
}

// New creates a Converter. binPath defaults to "danmaku2ass" if empty.
func New(binPath string, fontSize, scFontSize, resX, resY int) *Converter {
	if binPath == "" {
		binPath = "danmaku2ass"
	}
	return &Converter{BinPath: binPath, FontSize: fontSize, SCFontSize: scFontSize, ResX: resX, ResY: resY}
}

// ConvertXMLToASS runs the converter binary, returning classify.ErrData if
// the process exits nonzero (a malformed chat-log XML is a data problem,
// not a transient or fatal one).
func (c *Converter) ConvertXMLToASS(ctx context.Context, p ports.ConvertParams) error {
	args := []string{
		"-s", strconv.Itoa(c.ResX) + "x" + strconv.Itoa(c.ResY),
		"-fs", strconv.Itoa(c.FontSize),
		"-fsc", strconv.Itoa(c.SCFontSize),
		"-o", p.OutputPath,
		p.InputPath,
	}

	cmd := exec.CommandContext(ctx, c.BinPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: subtitle conversion failed: %s: %s", classify.ErrData, err, stderr.String())
	}
	return nil
}
