// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package collector implements the chat collector (C5): it drives a
// WebSocket connection to the chat proxy through a login/join/heartbeat
// state machine, decoding inbound frames via chatcodec and persisting
// chatmsg events via a chatlog.Writer. Transport is gorilla/websocket; the
// attempt-counted, capped retry-with-backoff loop follows the
// internal/openwebif/client.go request-retry conventions, rewritten around
// a long-lived connection instead of one-shot HTTP calls.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/streamvault/douyu-archiver/internal/chatcodec"
	"github.com/streamvault/douyu-archiver/internal/chatlog"
	"github.com/streamvault/douyu-archiver/internal/classify"
	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/metrics"
)

// State is one of the chat collector's state machine states (spec.md §4.5).
type State int

const (
	StateConnecting State = iota
	StateLoggedIn
	StateJoined
	StateRunning
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateLoggedIn:
		return "LOGGED_IN"
	case StateJoined:
		return "JOINED"
	case StateRunning:
		return "RUNNING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxReconnects     = 3
	defaultGroupID           = -9999
	stopTimeout              = 3 * time.Second // spec.md §4.5 "Stop must complete within 3 seconds"
)

// Config configures a Collector.
type Config struct {
	WSURL             string
	RoomID            string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	MaxReconnects     int
}

// Collector implements C5. One Collector is created per recording segment
// and discarded after Close.
type Collector struct {
	cfg    Config
	writer *chatlog.Writer
	dialer *websocket.Dialer

	segmentStart time.Time

	mu         sync.Mutex
	state      State
	typeCounts map[string]int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Collector writing decoded chatmsg text to w. segmentStart is
// the monotonic reference point offsets are computed against (spec.md §4.5
// "now − segment_start_monotonic").
func New(cfg Config, w *chatlog.Writer, segmentStart time.Time) *Collector {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	return &Collector{
		cfg:          cfg,
		writer:       w,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		segmentStart: segmentStart,
		state:        StateConnecting,
		typeCounts:   make(map[string]int),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// State returns the collector's current state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Collector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// TypeCounts returns a snapshot of non-chatmsg message type counts collected
// so far, for observability (spec.md §4.5 "Other types are ignored but
// counted by type for observability").
func (c *Collector) TypeCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.typeCounts))
	for k, v := range c.typeCounts {
		out[k] = v
	}
	return out
}

// Stop requests the collector to close and wait up to stopTimeout for the
// current session (if any) to wind down (spec.md §4.5 "Stop and close").
// Safe to call multiple times and from any goroutine.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	select {
	case <-c.doneCh:
	case <-time.After(stopTimeout):
	}
}

// Run drives the collector's connect/login/join/heartbeat/reconnect loop
// until Stop is called, ctx is cancelled, or the reconnect budget is
// exhausted. On exhaustion it returns an error wrapping classify.ErrDegraded
// (spec.md §4.5 "STOPPED with degraded-chat indication"); the caller should
// treat this as non-fatal to the ongoing video recording.
func (c *Collector) Run(ctx context.Context) error {
	logger := log.WithStreamer("collector", c.cfg.RoomID)
	defer close(c.doneCh)
	defer c.setState(StateStopped)
	// Close the chat log (writing the root closing tag) on every exit path,
	// including reconnect exhaustion, before doneCh releases Stop's waiter.
	defer func() {
		if err := c.writer.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close chat log")
		}
	}()

	attempt := 0
	for {
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.setState(StateConnecting)
		err := c.runSession(ctx, logger, attempt)
		if err == nil {
			return nil // clean external stop or ctx cancellation inside the session
		}

		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		attempt++
		if attempt > c.cfg.MaxReconnects {
			logger.Warn().Int("attempts", attempt).Msg("reconnect budget exhausted, chat degraded")
			metrics.ChatReconnectsTotal.WithLabelValues(c.cfg.RoomID, "exhausted").Inc()
			return fmt.Errorf("%w: room %s exhausted %d reconnect attempts: %v",
				classify.ErrDegraded, c.cfg.RoomID, attempt, err)
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("chat session dropped, reconnecting")
		c.setState(StateReconnecting)
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// runSession performs one connect→login→join→run lifecycle. A nil return
// means the session ended cleanly (external stop or ctx cancellation); any
// other return is a dropped-connection condition eligible for reconnect.
// attempt is the reconnect counter from Run, used only to record a
// successful reconnection once login/join complete past attempt 0.
func (c *Collector) runSession(ctx context.Context, logger zerolog.Logger, attempt int) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial chat proxy: %v", classify.ErrTransient, err)
	}
	defer conn.Close()

	if err := c.login(conn); err != nil {
		return err
	}
	c.setState(StateLoggedIn)

	if err := c.join(conn); err != nil {
		return err
	}
	c.setState(StateJoined)
	c.setState(StateRunning)
	if attempt > 0 {
		metrics.ChatReconnectsTotal.WithLabelValues(c.cfg.RoomID, "success").Inc()
	}

	return c.pump(ctx, conn, logger)
}

func (c *Collector) login(conn *websocket.Conn) error {
	payload := chatcodec.Encode(chatcodec.Payload{
		"type":   "loginreq",
		"roomid": c.cfg.RoomID,
	})
	if err := conn.WriteMessage(websocket.BinaryMessage, chatcodec.Pack(payload)); err != nil {
		return fmt.Errorf("%w: send loginreq: %v", classify.ErrTransient, err)
	}
	return nil
}

func (c *Collector) join(conn *websocket.Conn) error {
	payload := chatcodec.Encode(chatcodec.Payload{
		"type": "joingroup",
		"rid":  c.cfg.RoomID,
		"gid":  fmt.Sprintf("%d", defaultGroupID),
	})
	if err := conn.WriteMessage(websocket.BinaryMessage, chatcodec.Pack(payload)); err != nil {
		return fmt.Errorf("%w: send joingroup: %v", classify.ErrTransient, err)
	}
	return nil
}

// pump reads frames until the connection drops, ctx is cancelled, external
// stop is requested, or heartbeat silence exceeds 2x the heartbeat interval
// (spec.md §4.5 "RUNNING → RECONNECTING on WebSocket error or 2×
// heartbeat-interval silence").
func (c *Collector) pump(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) error {
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	silenceLimit := 2 * c.cfg.HeartbeatInterval
	lastActivity := time.Now()

	readCh := make(chan readResult, 1)
	go c.readLoop(conn, readCh)

	for {
		select {
		case <-c.stopCh:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil

		case <-ctx.Done():
			return nil

		case <-heartbeat.C:
			if time.Since(lastActivity) > silenceLimit {
				return fmt.Errorf("%w: no activity for %s", classify.ErrTransient, silenceLimit)
			}
			payload := chatcodec.Encode(chatcodec.Payload{
				"type": "keeplive",
				"tick": fmt.Sprintf("%d", time.Now().Unix()),
			})
			if err := conn.WriteMessage(websocket.BinaryMessage, chatcodec.Pack(payload)); err != nil {
				return fmt.Errorf("%w: send keeplive: %v", classify.ErrTransient, err)
			}

		case res, ok := <-readCh:
			if !ok {
				return fmt.Errorf("%w: chat proxy read loop ended", classify.ErrTransient)
			}
			if res.err != nil {
				return fmt.Errorf("%w: %v", classify.ErrTransient, res.err)
			}
			lastActivity = time.Now()
			c.handleFrame(res.data, logger)
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

func (c *Collector) readLoop(conn *websocket.Conn, out chan<- readResult) {
	defer close(out)
	for {
		_, data, err := conn.ReadMessage()
		out <- readResult{data: data, err: err}
		if err != nil {
			return
		}
	}
}

// handleFrame decodes and dispatches every payload packed into one WebSocket
// message (spec.md §4.1/§4.5).
func (c *Collector) handleFrame(data []byte, logger zerolog.Logger) {
	payloads, _, malformed := chatcodec.IterPayloads(data)
	if malformed > 0 {
		logger.Warn().Int("malformed_frames", malformed).Msg("dropped malformed chat frames")
		metrics.MalformedFramesTotal.WithLabelValues(c.cfg.RoomID).Add(float64(malformed))
	}
	for _, raw := range payloads {
		msg := chatcodec.Parse(raw)
		msgType := msg["type"]

		c.mu.Lock()
		c.typeCounts[msgType]++
		c.mu.Unlock()
		metrics.ChatMessagesByType.WithLabelValues(c.cfg.RoomID, msgType).Inc()

		if msgType != "chatmsg" {
			continue
		}

		text := msg["txt"]
		if text == "" {
			continue
		}
		offset := time.Since(c.segmentStart).Seconds()
		if err := c.writer.Write(offset, text, chatlog.WithUser(msg["nn"])); err != nil {
			logger.Error().Err(err).Msg("failed to write chat message")
		}
	}
}
