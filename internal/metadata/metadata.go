// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package metadata loads the external submission-metadata YAML consumed
// by C9 (spec.md §6 "Submission metadata (external YAML)"): the title
// template, category id, tags, source URL, description, cover path,
// dynamic text, and optional CDN hint attached to every new parent
// submission. Grounded on internal/config's YAML-loading convention.
package metadata

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the external submission-metadata document.
type Config struct {
	TitleTemplate string   `yaml:"titleTemplate"` // literal "{streamer}" and "{time}" placeholders
	CategoryID    int      `yaml:"categoryId"`
	Tags          []string `yaml:"tags"`
	SourceURL     string   `yaml:"sourceUrl"`
	Description   string   `yaml:"description"`
	CoverPath     string   `yaml:"coverPath"`
	DynamicText   string   `yaml:"dynamicText"`
	UploadCDNHint string   `yaml:"uploadCdnHint,omitempty"`
}

// Load reads and parses the submission-metadata YAML at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("metadata: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("metadata: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Title renders the submission title: {streamer} and {time} are
// substituted into the template, then suffix (the configured
// danmaku/no-danmaku title suffix) is appended (spec.md §4.9 "Title
// template with a literal {time} placeholder that C9 substitutes with
// the session's date in YYYY年MM月DD日 form").
func (c Config) Title(streamer string, sessionDate time.Time, suffix string) string {
	t := c.TitleTemplate
	if t == "" {
		t = "{streamer}直播录像{time}"
	}
	t = strings.ReplaceAll(t, "{streamer}", streamer)
	t = strings.ReplaceAll(t, "{time}", sessionDate.Format("2006年01月02日"))
	return t + suffix
}
