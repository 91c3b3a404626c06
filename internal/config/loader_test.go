// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validYAML = `
streamers:
  - name: S
    room: "123"
paths:
  processingDir: /tmp/processing
  uploadDir: /tmp/upload
  databasePath: /tmp/archiver.db
recording:
  segmentDurationMinutes: 30
  startTimeAdjustMinutes: 10
schedule:
  processingIntervalMinutes: 60
  statusCheckIntervalMinutes: 10
  staleSessionCleanupHours: 12
chat:
  wsURL: wss://chat.example.com/ws
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	require.Len(t, cfg.Streamers, 1)
	require.Equal(t, "S", cfg.Streamers[0].Name)
	require.Equal(t, 30*60, int(cfg.SegmentDuration().Seconds()))
}

func TestLoadRejectsZeroSegmentDuration(t *testing.T) {
	body := `
streamers:
  - name: S
    room: "123"
paths:
  processingDir: /tmp/processing
  databasePath: /tmp/archiver.db
recording:
  segmentDurationMinutes: 0
`
	path := writeTempConfig(t, body)
	_, err := NewLoader(path).Load()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalid))
}

func TestLoadRejectsEmptyStreamerList(t *testing.T) {
	body := `
streamers: []
paths:
  processingDir: /tmp/processing
  databasePath: /tmp/archiver.db
recording:
  segmentDurationMinutes: 30
`
	path := writeTempConfig(t, body)
	_, err := NewLoader(path).Load()
	require.Error(t, err)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	l := NewLoader(path)
	l.lookupEnv = func(k string) (string, bool) {
		if k == "DOUYUARCHIVER_SEGMENT_DURATION_MINUTES" {
			return "45", true
		}
		return "", false
	}
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, 45, cfg.Recording.SegmentDurationMinutes)
}

func TestDefaultsAppliedForChatTiming(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	require.Equal(t, 30, int(cfg.HeartbeatInterval().Seconds()))
	require.Equal(t, 5, int(cfg.ReconnectDelay().Seconds()))
	require.Equal(t, 3, cfg.ReconnectMax())
}
