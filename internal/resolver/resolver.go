// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/streamvault/douyu-archiver/internal/classify"
	"github.com/streamvault/douyu-archiver/internal/log"
)

const (
	defaultBaseURL     = "https://www.douyu.com"
	getEncryptionPath  = "/wgapi/live/liveweb/getEncryption"
	getH5PlayV1Path    = "/lapi/live/getH5PlayV1/"
	maxRetryAttempts   = 4 // 1 initial + 3 retries at 1s/2s/4s, per spec.md §4.3
	initialRetryDelay  = 1 * time.Second
	httpRequestTimeout = 10 * time.Second
)

// Resolver implements C3. One Resolver instance is shared across streamers;
// it is safe for concurrent use.
type Resolver struct {
	httpClient *http.Client
	cache      MaterialCache
	limiter    *rate.Limiter
	sf         singleflight.Group
	baseURL    string
	deviceID   string
	now        func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithBaseURL(u string) Option       { return func(r *Resolver) { r.baseURL = u } }
func WithHTTPClient(c *http.Client) Option { return func(r *Resolver) { r.httpClient = c } }
func WithCache(c MaterialCache) Option  { return func(r *Resolver) { r.cache = c } }
func WithRateLimit(rps float64, burst int) Option {
	return func(r *Resolver) { r.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a Resolver. If no cache is supplied, an in-memory cache is
// used (tests); production callers should supply a BadgerCache.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{Timeout: httpRequestTimeout},
		baseURL:    defaultBaseURL,
		deviceID:   uuid.NewString(),
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.cache == nil {
		r.cache = newMemoryCache()
	}
	return r
}

// Resolve resolves a playable media URL and required headers for roomID
// (spec.md §4.3). Concurrent calls for the same roomID are single-flighted.
func (r *Resolver) Resolve(ctx context.Context, roomID string) (Result, error) {
	v, err, _ := r.sf.Do(roomID, func() (any, error) {
		return r.resolveOnce(ctx, roomID)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Resolver) resolveOnce(ctx context.Context, roomID string) (Result, error) {
	logger := log.WithStreamer("resolver", roomID)

	var result Result
	err := retry.Do(
		func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			material, err := r.encryptionMaterial(ctx, roomID)
			if err != nil {
				return err
			}
			res, err := r.fetchPlayInfo(ctx, roomID, material)
			if err != nil {
				if isAuthFailure(err) {
					r.cache.Invalidate(roomID)
				}
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxRetryAttempts),
		retry.Delay(initialRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Uint("attempt", n).Err(err).Msg("resolve attempt failed, retrying")
		}),
	)
	if err != nil {
		return Result{}, fmt.Errorf("%w: room %s: %v", classify.ErrResolve, roomID, err)
	}
	return result, nil
}

// encryptionMaterial returns cached material if fresh, else fetches and
// caches it for EncryptionTTL.
func (r *Resolver) encryptionMaterial(ctx context.Context, roomID string) (EncryptionMaterial, error) {
	if entry, ok := r.cache.Get(roomID); ok {
		return entry.Material, nil
	}
	material, err := r.getEncryption(ctx, roomID)
	if err != nil {
		return EncryptionMaterial{}, err
	}
	r.cache.Set(roomID, cacheEntry{Material: material, FetchedAt: r.now()}, EncryptionTTL)
	return material, nil
}

func (r *Resolver) getEncryption(ctx context.Context, roomID string) (EncryptionMaterial, error) {
	u := fmt.Sprintf("%s%s?did=%s", r.baseURL, getEncryptionPath, url.QueryEscape(r.deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return EncryptionMaterial{}, fmt.Errorf("%w: build getEncryption request: %v", classify.ErrTransient, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return EncryptionMaterial{}, fmt.Errorf("%w: getEncryption: %v", classify.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return EncryptionMaterial{}, fmt.Errorf("%w: getEncryption forbidden", classify.ErrAuth)
	}
	if resp.StatusCode >= 500 {
		return EncryptionMaterial{}, fmt.Errorf("%w: getEncryption status %d", classify.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return EncryptionMaterial{}, fmt.Errorf("%w: getEncryption status %d", classify.ErrData, resp.StatusCode)
	}

	var decoded getEncryptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return EncryptionMaterial{}, fmt.Errorf("%w: decode getEncryption: %v", classify.ErrData, err)
	}
	return decoded.Data, nil
}

func (r *Resolver) fetchPlayInfo(ctx context.Context, roomID string, material EncryptionMaterial) (Result, error) {
	currentTS := r.now().Unix()
	auth := computeAuth(material.RandStr, material.Key, material.EncTime, material.IsSpecial, currentTS)

	form := url.Values{}
	form.Set("enc_data", material.EncData)
	form.Set("tt", strconv.FormatInt(currentTS, 10))
	form.Set("did", r.deviceID)
	form.Set("auth", auth)
	form.Set("cdn", "")
	form.Set("rate", "0")
	form.Set("ver", "Douyu_219042101")

	u := r.baseURL + getH5PlayV1Path + roomID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build getH5PlayV1 request: %v", classify.ErrTransient, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: getH5PlayV1: %v", classify.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return Result{}, fmt.Errorf("%w: getH5PlayV1 forbidden", classify.ErrAuth)
	}
	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("%w: getH5PlayV1 status %d", classify.ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: getH5PlayV1 status %d", classify.ErrData, resp.StatusCode)
	}

	var decoded playInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("%w: decode getH5PlayV1: %v", classify.ErrData, err)
	}

	mediaURL, ok := pickMediaURL(decoded)
	if !ok {
		return Result{}, fmt.Errorf("%w: no playable url returned for room %s", classify.ErrData, roomID)
	}

	return Result{
		URL: mediaURL,
		Headers: map[string]string{
			"Referer":    r.baseURL + "/",
			"User-Agent": "Mozilla/5.0 (compatible; douyu-archiver/1.0)",
			"Origin":     r.baseURL,
		},
	}, nil
}

// pickMediaURL prefers rtmp_url+rtmp_live, falling back to hls_url+hls_live
// (spec.md §4.3 step 3).
func pickMediaURL(p playInfoResponse) (string, bool) {
	if p.Data.RTMPURL != "" && p.Data.RTMPLive != "" {
		return joinStreamURL(p.Data.RTMPURL, p.Data.RTMPLive), true
	}
	if p.Data.HLSURL != "" && p.Data.HLSLive != "" {
		return joinStreamURL(p.Data.HLSURL, p.Data.HLSLive), true
	}
	return "", false
}

func joinStreamURL(base, live string) string {
	if strings.HasSuffix(base, "/") {
		return base + live
	}
	return base + "/" + live
}

func isAuthFailure(err error) bool {
	return errors.Is(err, classify.ErrAuth)
}
