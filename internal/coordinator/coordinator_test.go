// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/monitor"
	"github.com/streamvault/douyu-archiver/internal/ports"
	"github.com/streamvault/douyu-archiver/internal/resolver"
)

// fakeTranscoder writes a fixed payload to OutPath immediately, then blocks
// until Stop is called or ctx is cancelled, simulating a long-running
// recording that the coordinator must close out.
type fakeTranscoder struct {
	mu      sync.Mutex
	stopped chan struct{}
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{stopped: make(chan struct{})}
}

func (f *fakeTranscoder) Run(ctx context.Context, spec ports.TranscodeSpec) (int, error) {
	if err := os.WriteFile(spec.OutPath, []byte("fake-flv-bytes"), 0o644); err != nil {
		return 1, err
	}
	select {
	case <-f.stopped:
		return 0, nil
	case <-ctx.Done():
		return 0, nil
	}
}

func (f *fakeTranscoder) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.stopped:
	default:
		close(f.stopped)
	}
	return nil
}

func (f *fakeTranscoder) StderrTail(n int) []string { return nil }

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newNoOpChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestRunSegment_PublishesPairWhenBothFilesNonEmpty(t *testing.T) {
	chatSrv := newNoOpChatServer(t)
	defer chatSrv.Close()

	resSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"rtmp_url":"rtmp://x/","rtmp_live":"y"}}`))
	}))
	defer resSrv.Close()

	dir := t.TempDir()
	res := resolver.New(resolver.WithBaseURL(resSrv.URL), resolver.WithRateLimit(1000, 10))
	mon := monitor.New(resSrv.URL, "1")
	mon.Initialize(context.Background())

	tc := newFakeTranscoder()
	co := New(Config{
		StreamerName:   "teststreamer",
		RoomID:         "1",
		ProcessingDir:  dir,
		SegmentSeconds: 1,
		ChatWSURL:      wsURL(chatSrv.URL),
		Heartbeat:      time.Hour,
		ReconnectDelay: 10 * time.Millisecond,
		ReconnectMax:   1,
	}, mon, res, func() ports.Transcoder { return tc })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := log.WithStreamer("coordinator", "teststreamer")
	co.runSegment(ctx, "rtmp://x/y", nil, logger)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	foundFLV, foundXML := false, false
	for _, n := range names {
		if strings.HasSuffix(n, ".flv") {
			foundFLV = true
		}
		if strings.HasSuffix(n, ".xml") {
			foundXML = true
		}
		assert.False(t, strings.HasSuffix(n, ".part"), "no .part file should remain: %s", n)
	}
	assert.True(t, foundFLV, "expected a published .flv file, got %v", names)
	assert.True(t, foundXML, "expected a published .xml file, got %v", names)
}

func TestBaseFilename_IsFilenameSafe(t *testing.T) {
	base := baseFilename("somestreamer", time.Date(2026, 3, 5, 13, 4, 5, 0, time.UTC))
	assert.NotContains(t, base, ":")
	assert.Contains(t, base, "somestreamer")
	assert.Contains(t, base, "2026-03-05T13_04_05")
}

func TestTrimPartSuffix(t *testing.T) {
	assert.Equal(t, "foo.flv", trimPartSuffix("foo.flv.part"))
	assert.Equal(t, "foo.flv", trimPartSuffix("foo.flv"))
}
