// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package monitor implements the per-streamer status monitor (C6): it polls
// a JSON status endpoint and caches a three-valued live/offline/unknown
// status, exposing only transitions that are backed by a real API response.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/metrics"
)

const requestTimeout = 10 * time.Second // spec.md §4.6 "10-second request timeout"

// Transition describes a detected live/offline change (spec.md §4.6
// "detect_change() → (prev, curr)").
type Transition struct {
	Prev bool
	Curr bool
}

// Monitor polls one streamer's status endpoint. Safe for concurrent use.
type Monitor struct {
	httpClient *http.Client
	statusURL  string
	roomID     string

	mu          sync.Mutex
	initialized bool
	live        bool
}

// New creates a Monitor for statusURL, a JSON endpoint returning the
// streamer's live status.
func New(statusURL, roomID string) *Monitor {
	return &Monitor{
		httpClient: &http.Client{Timeout: requestTimeout},
		statusURL:  statusURL,
		roomID:     roomID,
	}
}

type statusResponse struct {
	Data struct {
		Live int `json:"show_status"` // 1 = live, anything else = offline, upstream-defined
	} `json:"data"`
}

// Check performs one HTTP call and returns (true, true) if live, (false,
// true) if offline, or (false, false) on any error (spec.md §4.6 "check() →
// live | offline | null"). It does not touch the cached state.
func (m *Monitor) Check(ctx context.Context) (live bool, ok bool) {
	logger := log.WithStreamer("monitor", m.roomID)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, m.statusURL, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build status request")
		return false, false
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("status check failed")
		return false, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status_code", resp.StatusCode).Msg("status check returned non-200")
		return false, false
	}

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		logger.Warn().Err(err).Msg("failed to decode status response")
		return false, false
	}

	return decoded.Data.Live == 1, true
}

// Initialize performs one Check on startup and caches live=false if the
// check errors (spec.md §4.6 "initialize()"). Safe to call exactly once;
// later calls are no-ops.
func (m *Monitor) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	live, ok := m.Check(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.live = live
	} else {
		m.live = false
	}
	m.initialized = true
}

// DetectChange performs a Check and returns a non-nil Transition only when
// the check succeeded and the result differs from the cached state
// (spec.md §4.6 "detect_change()"). Two consecutive API errors never
// fabricate a transition: on error, DetectChange simply returns nil without
// touching the cache. Assumes Initialize has already established a
// baseline; calling it before Initialize compares against the zero-value
// cache (live=false), matching Initialize's own error-path default.
func (m *Monitor) DetectChange(ctx context.Context) *Transition {
	live, ok := m.Check(ctx)
	if !ok {
		metrics.StatusCheckErrorsTotal.WithLabelValues(m.roomID).Inc()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.live
	m.initialized = true
	if live == prev {
		return nil
	}
	m.live = live

	direction := "offline"
	if live {
		direction = "live"
	}
	metrics.StatusTransitionsTotal.WithLabelValues(m.roomID, direction).Inc()
	return &Transition{Prev: prev, Curr: live}
}

// IsLive returns the cached state; defaults to false before Initialize or
// the first successful DetectChange (spec.md §4.6 "is_live()").
func (m *Monitor) IsLive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// String is used in log fields and error messages.
func (m *Monitor) String() string {
	return fmt.Sprintf("monitor(room=%s)", m.roomID)
}
