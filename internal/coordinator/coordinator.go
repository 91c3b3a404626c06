// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package coordinator implements the per-streamer segment coordinator (C7):
// the OFFLINE/RESOLVING/RECORDING/CLOSING state machine that composes C3
// (resolver), C4 (recorder), C5 (chat collector) and C6 (status monitor)
// into complete, atomically-published segment pairs, using an
// event-driven orchestrator pattern (channel-selected dispatch) built
// around this domain's four states.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamvault/douyu-archiver/internal/chatlog"
	"github.com/streamvault/douyu-archiver/internal/classify"
	"github.com/streamvault/douyu-archiver/internal/collector"
	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/metrics"
	"github.com/streamvault/douyu-archiver/internal/monitor"
	"github.com/streamvault/douyu-archiver/internal/ports"
	"github.com/streamvault/douyu-archiver/internal/resolver"
)

// State is one of the segment coordinator's four states (spec.md §4.7).
type State int

const (
	StateOffline State = iota
	StateResolving
	StateRecording
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateResolving:
		return "RESOLVING"
	case StateRecording:
		return "RECORDING"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

const (
	collectorStopBudget = 3 * time.Second
	recorderStopBudget  = 10 * time.Second
	cooldown            = 10 * time.Second // spec.md §4.7 "insert a 10-second cool-down"
	maxResolveAttempts  = 3
)

// Config configures a Coordinator.
type Config struct {
	StreamerName   string
	RoomID         string
	ProcessingDir  string
	SegmentSeconds int
	ChatWSURL      string
	Heartbeat      time.Duration
	ReconnectDelay time.Duration
	ReconnectMax   int
}

// Coordinator drives one streamer's record/close cycle end to end.
type Coordinator struct {
	cfg      Config
	monitor  *monitor.Monitor
	resolver *resolver.Resolver
	newTrans func() ports.Transcoder

	mu    sync.Mutex
	state State

	liveSignal chan struct{}
	stopOnce   sync.Once
	stopCh     chan struct{}
}

// New creates a Coordinator. newTranscoder constructs a fresh
// ports.Transcoder for each segment (a process cannot be reused across Run
// calls).
func New(cfg Config, mon *monitor.Monitor, res *resolver.Resolver, newTranscoder func() ports.Transcoder) *Coordinator {
	return &Coordinator{
		cfg:        cfg,
		monitor:    mon,
		resolver:   res,
		newTrans:   newTranscoder,
		state:      StateOffline,
		liveSignal: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// NotifyLive is called by C10's scheduled poll whenever C6 detects a
// going-live transition. Non-blocking; coalesces if the coordinator has not
// yet consumed a prior signal.
func (c *Coordinator) NotifyLive() {
	select {
	case c.liveSignal <- struct{}{}:
	default:
	}
}

// Stop requests the coordinator to wind down after its current segment (if
// any) completes its close sequence.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Run drives the state machine until ctx is cancelled or Stop is called.
func (c *Coordinator) Run(ctx context.Context) {
	logger := log.WithStreamer("coordinator", c.cfg.StreamerName)

	if c.monitor.IsLive() {
		c.setState(StateResolving) // spec.md §4.7 "or immediately at startup if already live"
	} else {
		c.setState(StateOffline)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		switch c.State() {
		case StateOffline:
			if !c.waitForLive(ctx) {
				return
			}
			c.setState(StateResolving)

		case StateResolving:
			url, headers, ok := c.resolveWithRetry(ctx, logger)
			if !ok {
				c.setState(StateOffline)
				continue
			}
			c.setState(StateRecording)
			c.runSegment(ctx, url, headers, logger)
			// runSegment always leaves the coordinator in StateClosing on
			// return; decide the next live state here.
			if c.monitor.IsLive() {
				c.setState(StateResolving)
			} else {
				c.setState(StateOffline)
			}
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-time.After(cooldown):
			}

		default:
			c.setState(StateOffline)
		}
	}
}

func (c *Coordinator) waitForLive(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	case <-c.liveSignal:
		return true
	}
}

// resolveWithRetry calls C3 up to maxResolveAttempts times. The resolver
// itself already retries transient failures internally; this outer loop
// covers the coordinator's own policy of giving up and staying OFFLINE for
// the current live interval after repeated ErrResolve (spec.md §4.7
// "retries on ErrResolve with backoff; after N failures stays OFFLINE").
func (c *Coordinator) resolveWithRetry(ctx context.Context, logger zerolog.Logger) (string, map[string]string, bool) {
	var lastErr error
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		res, err := c.resolver.Resolve(ctx, c.cfg.RoomID)
		if err == nil {
			return res.URL, res.Headers, true
		}
		lastErr = err
		if !errors.Is(err, classify.ErrResolve) {
			logger.Error().Err(err).Msg("resolve failed with non-retryable error")
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("resolve attempt failed")
		select {
		case <-ctx.Done():
			return "", nil, false
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	metrics.ResolveFailuresTotal.WithLabelValues(c.cfg.StreamerName).Inc()
	logger.Warn().Err(lastErr).Msg("exhausted resolve attempts, staying offline for this live interval")
	return "", nil, false
}

// baseFilename computes the filename-safe, second-precision timestamp base
// shared by a segment's XML/FLV pair (spec.md §4.7 "compute base from
// current local time ... uses filename-safe separators"; §6 filesystem
// layout "{streamer}录播{YYYY-MM-DDTHH_mm_ss}").
func baseFilename(streamer string, t time.Time) string {
	return fmt.Sprintf("%s录播%s", streamer, t.Format("2006-01-02T15_04_05"))
}

// runSegment starts C4 and C5 for one segment, waits for either to end the
// window, runs the close sequence, and publishes the pair if both files are
// non-empty. On return the coordinator is in StateClosing; the caller
// decides the next state.
func (c *Coordinator) runSegment(ctx context.Context, url string, headers map[string]string, logger zerolog.Logger) {
	base := baseFilename(c.cfg.StreamerName, time.Now())
	flvPart := filepath.Join(c.cfg.ProcessingDir, base+".flv.part")
	xmlPart := filepath.Join(c.cfg.ProcessingDir, base+".xml.part")

	writer, err := chatlog.Open(xmlPart)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open chat log writer, skipping segment")
		c.setState(StateClosing)
		return
	}

	col := collector.New(collector.Config{
		WSURL:          c.cfg.ChatWSURL,
		RoomID:         c.cfg.RoomID,
		HeartbeatInterval: c.cfg.Heartbeat,
		ReconnectDelay: c.cfg.ReconnectDelay,
		MaxReconnects:  c.cfg.ReconnectMax,
	}, writer, time.Now())

	collectorDone := make(chan error, 1)
	go func() { collectorDone <- col.Run(ctx) }()

	trans := c.newTrans()
	recorderDone := make(chan error, 1)
	go func() {
		_, err := trans.Run(ctx, ports.TranscodeSpec{
			URL:             url,
			Headers:         headers,
			OutPath:         flvPart,
			DurationSeconds: c.cfg.SegmentSeconds,
		})
		recorderDone <- err
	}()

	timer := time.NewTimer(time.Duration(c.cfg.SegmentSeconds) * time.Second)
	defer timer.Stop()

	select {
	case err := <-recorderDone:
		if err != nil {
			logger.Warn().Err(err).Msg("recorder ended with error")
		}
	case <-timer.C:
	case <-ctx.Done():
	case <-c.stopCh:
	}

	c.setState(StateClosing)
	c.closeSegment(ctx, col, trans, collectorDone, recorderDone, xmlPart, flvPart, logger)
}

// closeSegment runs the stop sequence (spec.md §4.7 "Send stop to C5 ...
// then wait for C4 ... If both produced non-empty files, atomically rename
// both .part files (XML first, then FLV)").
func (c *Coordinator) closeSegment(
	ctx context.Context,
	col *collector.Collector,
	trans ports.Transcoder,
	collectorDone, recorderDone chan error,
	xmlPart, flvPart string,
	logger zerolog.Logger,
) {
	col.Stop() // blocks up to collectorStopBudget internally
	select {
	case <-collectorDone:
	case <-time.After(collectorStopBudget):
		logger.Warn().Msg("collector did not stop within budget")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), recorderStopBudget)
	defer cancel()
	if err := trans.Stop(stopCtx); err != nil {
		logger.Warn().Err(err).Msg("transcoder stop reported an error")
	}
	select {
	case <-recorderDone:
	case <-time.After(recorderStopBudget):
		logger.Warn().Msg("transcoder did not exit within stop budget")
	}

	if !nonEmptyFile(xmlPart) || !nonEmptyFile(flvPart) {
		logger.Warn().Str("xml", xmlPart).Str("flv", flvPart).Msg("segment incomplete, leaving .part files in place")
		metrics.SegmentsAbandonedTotal.WithLabelValues(c.cfg.StreamerName).Inc()
		return
	}

	xmlFinal := trimPartSuffix(xmlPart)
	flvFinal := trimPartSuffix(flvPart)

	if err := os.Rename(xmlPart, xmlFinal); err != nil {
		logger.Error().Err(err).Msg("failed to publish xml, leaving .part files in place")
		metrics.SegmentsAbandonedTotal.WithLabelValues(c.cfg.StreamerName).Inc()
		return
	}
	if err := os.Rename(flvPart, flvFinal); err != nil {
		logger.Error().Err(err).Msg("failed to publish flv after xml was already published")
		metrics.SegmentsAbandonedTotal.WithLabelValues(c.cfg.StreamerName).Inc()
		return
	}

	metrics.SegmentsCompletedTotal.WithLabelValues(c.cfg.StreamerName).Inc()
	logger.Info().Str("base", flvFinal).Msg("segment published")
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func trimPartSuffix(path string) string {
	const suffix = ".part"
	if len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix {
		return path[:len(path)-len(suffix)]
	}
	return path
}
