// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/douyu-archiver/internal/classify"
)

func newTestMaterial() EncryptionMaterial {
	return EncryptionMaterial{
		EncData: "enc", RandStr: "r", Key: "k", EncTime: 1700000000, IsSpecial: 0,
	}
}

func TestResolve_HappyPath(t *testing.T) {
	var encryptionHits, playInfoHits int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == getEncryptionPath:
			atomic.AddInt32(&encryptionHits, 1)
			_ = json.NewEncoder(w).Encode(getEncryptionResponse{Data: newTestMaterial()})
		case req.URL.Path == getH5PlayV1Path+"12345":
			atomic.AddInt32(&playInfoHits, 1)
			var resp playInfoResponse
			resp.Data.RTMPURL = "rtmp://cdn.example.com/live/"
			resp.Data.RTMPLive = "stream123?token=abc"
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := New(WithBaseURL(srv.URL), WithRateLimit(1000, 10))
	res, err := r.Resolve(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "rtmp://cdn.example.com/live/stream123?token=abc", res.URL)
	assert.Equal(t, srv.URL+"/", res.Headers["Referer"])
	assert.EqualValues(t, 1, encryptionHits)
	assert.EqualValues(t, 1, playInfoHits)

	// Second resolve within TTL should reuse cached encryption material.
	_, err = r.Resolve(context.Background(), "12345")
	require.NoError(t, err)
	assert.EqualValues(t, 1, encryptionHits, "encryption material should be cached")
	assert.EqualValues(t, 2, playInfoHits)
}

func TestResolve_AuthFailureInvalidatesCacheAndRetries(t *testing.T) {
	var playInfoCalls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == getEncryptionPath:
			_ = json.NewEncoder(w).Encode(getEncryptionResponse{Data: newTestMaterial()})
		case req.URL.Path == getH5PlayV1Path+"555":
			n := atomic.AddInt32(&playInfoCalls, 1)
			if n == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			var resp playInfoResponse
			resp.Data.HLSURL = "https://cdn.example.com/hls/"
			resp.Data.HLSLive = "idx.m3u8"
			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	r := New(WithBaseURL(srv.URL), WithRateLimit(1000, 10))
	res, err := r.Resolve(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/hls/idx.m3u8", res.URL)
	assert.EqualValues(t, 2, playInfoCalls)
}

func TestResolve_ExhaustedRetriesReturnErrResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(WithBaseURL(srv.URL), WithRateLimit(1000, 10))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := r.Resolve(ctx, "999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, classify.ErrResolve))
}

func TestResolve_NoPlayableURLIsResolveError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case getEncryptionPath:
			_ = json.NewEncoder(w).Encode(getEncryptionResponse{Data: newTestMaterial()})
		default:
			_ = json.NewEncoder(w).Encode(playInfoResponse{})
		}
	}))
	defer srv.Close()

	r := New(WithBaseURL(srv.URL), WithRateLimit(1000, 10))
	_, err := r.Resolve(context.Background(), "7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, classify.ErrResolve))
}

func TestResolve_ConcurrentCallsAreSingleFlighted(t *testing.T) {
	var encryptionHits int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case getEncryptionPath:
			atomic.AddInt32(&encryptionHits, 1)
			time.Sleep(20 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(getEncryptionResponse{Data: newTestMaterial()})
		default:
			var resp playInfoResponse
			resp.Data.RTMPURL = "rtmp://cdn.example.com/live/"
			resp.Data.RTMPLive = "s"
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	defer srv.Close()

	r := New(WithBaseURL(srv.URL), WithRateLimit(1000, 10))

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := r.Resolve(context.Background(), "concurrent-room")
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}
