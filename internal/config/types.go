// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration loading, validation and hot-reload
// for the archiver. Layout follows the internal/config package convention:
// FileConfig (YAML) + environment overlay + ConfigHolder hot-reload.
package config

import (
	"strings"
	"time"
)

// Streamer is one configured streamer to monitor (spec.md §3 "Streamer
// configuration"). The ordered list is process-wide and immutable after
// startup.
type Streamer struct {
	Name string `yaml:"name"`
	Room string `yaml:"room"`
}

// FileConfig is the on-disk YAML configuration (spec.md §6 "Configuration
// knobs").
type FileConfig struct {
	LogLevel string `yaml:"logLevel,omitempty"`

	Streamers []Streamer `yaml:"streamers"`

	Paths struct {
		ProcessingDir string `yaml:"processingDir"`
		UploadDir     string `yaml:"uploadDir"`
		DatabasePath  string `yaml:"databasePath"`
	} `yaml:"paths"`

	Transcoder struct {
		BinaryPath    string            `yaml:"binaryPath"`
		ProberPath    string            `yaml:"proberPath"`
		Environment   map[string]string `yaml:"environment,omitempty"` // LD_LIBRARY_PATH, LIBVA_DRIVER_NAME, LIBVA_DRIVERS_PATH, device node, ...
		SkipEncoding  bool              `yaml:"skipEncoding,omitempty"`
	} `yaml:"transcoder"`

	Subtitle struct {
		FontSize   int `yaml:"fontSize"`
		SCFontSize int `yaml:"scFontSize"`
		ResX       int `yaml:"resX"`
		ResY       int `yaml:"resY"`
	} `yaml:"subtitle"`

	Upload struct {
		MinValidFileSizeMB      int    `yaml:"minValidFileSizeMB"`
		DanmakuTitleSuffix      string `yaml:"danmakuTitleSuffix"`
		NoDanmakuTitleSuffix    string `yaml:"noDanmakuTitleSuffix"`
		DeleteAfterUpload       bool   `yaml:"deleteAfterUpload"`
		ScheduledUploadEnabled  bool   `yaml:"scheduledUploadEnabled"`
		SessionBufferMinutes    int    `yaml:"sessionBufferMinutes"`
		MetadataPath            string `yaml:"metadataPath"` // external YAML, §6 "Submission metadata"
		UploadCDNHint           string `yaml:"uploadCDNHint,omitempty"`
		BiliCookie              string `yaml:"biliCookie"`   // raw Cookie header, obtained out-of-band
		BiliCSRF                string `yaml:"biliCsrf"`      // bili_jct
	} `yaml:"upload"`

	// StatusURLTemplate is the per-room status endpoint with a literal
	// "{room}" placeholder, substituted by C6's caller in main.
	StatusURLTemplate string `yaml:"statusURLTemplate,omitempty"`

	Schedule struct {
		ProcessingIntervalMinutes  int  `yaml:"processingIntervalMinutes"`  // default 60
		StatusCheckIntervalMinutes int  `yaml:"statusCheckIntervalMinutes"` // default 10
		ProcessOnlyAfterStreamEnd  bool `yaml:"processOnlyAfterStreamEnd"`
		StaleSessionCleanupHours   int  `yaml:"staleSessionCleanupHours"` // default 12
	} `yaml:"schedule"`

	Recording struct {
		SegmentDurationMinutes  int `yaml:"segmentDurationMinutes"`
		StartTimeAdjustMinutes  int `yaml:"startTimeAdjustMinutes"`
	} `yaml:"recording"`

	Chat struct {
		WSURL             string `yaml:"wsURL"`
		HeartbeatSeconds  int    `yaml:"heartbeatSeconds"`  // default 30
		ReconnectDelaySec int    `yaml:"reconnectDelaySec"` // default 5
		ReconnectMax      int    `yaml:"reconnectMax"`      // default 3
	} `yaml:"chat"`

	Redis struct {
		Addr string `yaml:"addr,omitempty"`
	} `yaml:"redis,omitempty"`

	BadgerDir string `yaml:"badgerDir,omitempty"`
}

const defaultStatusURLTemplate = "https://www.douyu.com/betard/{room}"

// StatusURL renders the per-room status endpoint for room, substituting
// the configured template's "{room}" placeholder.
func (c FileConfig) StatusURL(room string) string {
	t := c.StatusURLTemplate
	if t == "" {
		t = defaultStatusURLTemplate
	}
	return strings.ReplaceAll(t, "{room}", room)
}

// SegmentDuration returns the configured segment duration as a Duration.
func (c FileConfig) SegmentDuration() time.Duration {
	return time.Duration(c.Recording.SegmentDurationMinutes) * time.Minute
}

// StartTimeAdjust returns the configured start-time adjustment.
func (c FileConfig) StartTimeAdjust() time.Duration {
	return time.Duration(c.Recording.StartTimeAdjustMinutes) * time.Minute
}

// ProcessingInterval returns the configured video-pipeline interval.
func (c FileConfig) ProcessingInterval() time.Duration {
	return time.Duration(c.Schedule.ProcessingIntervalMinutes) * time.Minute
}

// StatusCheckInterval returns the per-streamer status-poll interval.
func (c FileConfig) StatusCheckInterval() time.Duration {
	return time.Duration(c.Schedule.StatusCheckIntervalMinutes) * time.Minute
}

// StaleSessionThreshold returns the configured "open longer than" threshold
// for stale sessions (default 12h). C10's stale-session cleanup job does not
// read it; that job closes sessions open longer than its own fixed 24-hour
// cutoff.
func (c FileConfig) StaleSessionThreshold() time.Duration {
	hrs := c.Schedule.StaleSessionCleanupHours
	if hrs <= 0 {
		hrs = 12
	}
	return time.Duration(hrs) * time.Hour
}

// SessionBuffer returns the window-adjustment buffer used by C9 bucketing.
func (c FileConfig) SessionBuffer() time.Duration {
	return time.Duration(c.Upload.SessionBufferMinutes) * time.Minute
}

// HeartbeatInterval, ReconnectDelay return chat-collector timing knobs with
// the documented defaults applied (spec.md §4.5).
func (c FileConfig) HeartbeatInterval() time.Duration {
	s := c.Chat.HeartbeatSeconds
	if s <= 0 {
		s = 30
	}
	return time.Duration(s) * time.Second
}

func (c FileConfig) ReconnectDelay() time.Duration {
	s := c.Chat.ReconnectDelaySec
	if s <= 0 {
		s = 5
	}
	return time.Duration(s) * time.Second
}

func (c FileConfig) ReconnectMax() int {
	if c.Chat.ReconnectMax <= 0 {
		return 3
	}
	return c.Chat.ReconnectMax
}
