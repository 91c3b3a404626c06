// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitle_SubstitutesStreamerAndTime(t *testing.T) {
	cfg := Config{TitleTemplate: "{streamer}直播录像{time}"}
	date := time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "S直播录像2026年02月24日弹幕版", cfg.Title("S", date, "弹幕版"))
}

func TestTitle_DefaultsWhenTemplateEmpty(t *testing.T) {
	var cfg Config
	date := time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "S直播录像2026年02月24日", cfg.Title("S", date, ""))
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
titleTemplate: "{streamer}直播录像{time}"
categoryId: 17
tags: ["直播", "录像"]
sourceUrl: "https://www.douyu.com/123"
description: "auto-archived live recording"
coverPath: "/data/covers/default.jpg"
dynamicText: "自动归档"
uploadCdnHint: "bda2"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 17, cfg.CategoryID)
	assert.Equal(t, []string{"直播", "录像"}, cfg.Tags)
	assert.Equal(t, "bda2", cfg.UploadCDNHint)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
