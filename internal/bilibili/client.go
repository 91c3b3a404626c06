// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package bilibili implements ports.UploadClient against the upload
// platform's HTTP API (spec.md §6 "Upload client: checkLogin() → bool,
// uploadNew(path, meta) → ok, appendPart(path, parent_id, cdn, part_name)
// → ok, feed(size, statusSet) → map<title, parent_id>"). Grounded on
// internal/resolver's http.Client construction and classify.Err*
// wrapping; retried with the same avast/retry-go backoff policy used
// there, since both are "talk to an external HTTP API and classify the
// failure" problems.
package bilibili

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/streamvault/douyu-archiver/internal/classify"
	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/ports"
)

const (
	defaultBaseURL     = "https://member.bilibili.com"
	loginCheckPath     = "/x/web-interface/nav"
	addVideoPath       = "/x/vu/web/add"
	addPartPath        = "/x/vu/web/edit"
	archiveFeedPath    = "/x/vu/web/archives"
	maxRetryAttempts   = 4
	initialRetryDelay  = 1 * time.Second
	httpRequestTimeout = 60 * time.Second // video part uploads are large
)

// Client implements ports.UploadClient over HTTP, authenticating via a
// pre-obtained session cookie (the credential lifecycle itself is an
// external collaborator concern per spec.md §1 and is out of scope here).
type Client struct {
	httpClient *http.Client
	baseURL    string
	cookie     string // raw Cookie header value, e.g. "SESSDATA=...; bili_jct=..."
	csrf       string // bili_jct, required on state-changing calls
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option          { return func(c *Client) { c.baseURL = u } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// New creates a Client authenticated with the given session cookie and
// CSRF token (bili_jct), both obtained out-of-band.
func New(cookie, csrf string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: httpRequestTimeout},
		baseURL:    defaultBaseURL,
		cookie:     cookie,
		csrf:       csrf,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CheckLogin reports whether the stored credentials are still valid.
func (c *Client) CheckLogin(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+loginCheckPath, nil)
	if err != nil {
		return false, fmt.Errorf("%w: build login check request: %v", classify.ErrTransient, err)
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: login check: %v", classify.ErrTransient, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Code int `json:"code"`
		Data struct {
			IsLogin bool `json:"isLogin"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("%w: decode login check: %v", classify.ErrData, err)
	}
	if decoded.Code != 0 {
		return false, fmt.Errorf("%w: login check rejected: code %d", classify.ErrAuth, decoded.Code)
	}
	return decoded.Data.IsLogin, nil
}

// UploadNew submits path as a brand-new parent video, returning ok=true
// on acceptance. The caller is responsible for learning the resulting
// parent id via Feed; this API does not return it synchronously for all
// platform implementations, matching spec.md §4.9's back-fill design.
func (c *Client) UploadNew(ctx context.Context, path string, meta ports.SubmissionMeta) (bool, error) {
	var ok bool
	err := c.retryable(ctx, "uploadNew", func() error {
		var err error
		ok, err = c.uploadNewOnce(ctx, path, meta)
		return err
	})
	return ok, err
}

func (c *Client) uploadNewOnce(ctx context.Context, path string, meta ports.SubmissionMeta) (bool, error) {
	body, contentType, err := multipartVideoBody(path, meta.PartName)
	if err != nil {
		return false, fmt.Errorf("%w: build uploadNew body: %v", classify.ErrData, err)
	}

	u := fmt.Sprintf("%s%s?csrf=%s", c.baseURL, addVideoPath, url.QueryEscape(c.csrf))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return false, fmt.Errorf("%w: build uploadNew request: %v", classify.ErrTransient, err)
	}
	req.Header.Set("Content-Type", contentType)
	c.setCommonHeaders(req)

	return c.doSubmission(req)
}

// AppendPart uploads path as an additional part of the existing
// submission identified by parentID.
func (c *Client) AppendPart(ctx context.Context, path, parentID, cdn, partName string) (bool, error) {
	var ok bool
	err := c.retryable(ctx, "appendPart", func() error {
		var err error
		ok, err = c.appendPartOnce(ctx, path, parentID, cdn, partName)
		return err
	})
	return ok, err
}

func (c *Client) appendPartOnce(ctx context.Context, path, parentID, cdn, partName string) (bool, error) {
	body, contentType, err := multipartVideoBody(path, partName)
	if err != nil {
		return false, fmt.Errorf("%w: build appendPart body: %v", classify.ErrData, err)
	}

	q := url.Values{"csrf": {c.csrf}, "aid": {parentID}}
	if cdn != "" {
		q.Set("cdn", cdn)
	}
	u := fmt.Sprintf("%s%s?%s", c.baseURL, addPartPath, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return false, fmt.Errorf("%w: build appendPart request: %v", classify.ErrTransient, err)
	}
	req.Header.Set("Content-Type", contentType)
	c.setCommonHeaders(req)

	return c.doSubmission(req)
}

// Feed queries the account's submission list filtered by statusSet and
// returns a map of exact title to parent id, for the back-fill task
// (spec.md §4.9 "query the feed and match by exact title").
func (c *Client) Feed(ctx context.Context, size int, statusSet []string) (map[string]string, error) {
	var result map[string]string
	err := c.retryable(ctx, "feed", func() error {
		var err error
		result, err = c.feedOnce(ctx, size, statusSet)
		return err
	})
	return result, err
}

func (c *Client) feedOnce(ctx context.Context, size int, statusSet []string) (map[string]string, error) {
	q := url.Values{
		"status": {strings.Join(statusSet, ",")},
		"pn":     {"1"},
		"ps":     {strconv.Itoa(size)},
	}
	u := c.baseURL + archiveFeedPath + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build feed request: %v", classify.ErrTransient, err)
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: feed: %v", classify.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: feed forbidden", classify.ErrAuth)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: feed status %d", classify.ErrTransient, resp.StatusCode)
	}

	var decoded feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %v", classify.ErrData, err)
	}
	if decoded.Code != 0 {
		return nil, fmt.Errorf("%w: feed rejected: code %d", classify.ErrAuth, decoded.Code)
	}

	out := make(map[string]string, len(decoded.Data.Archives))
	for _, a := range decoded.Data.Archives {
		out[a.Title] = a.ID
	}
	return out, nil
}

type feedResponse struct {
	Code int `json:"code"`
	Data struct {
		Archives []struct {
			ID    string `json:"aid"`
			Title string `json:"title"`
		} `json:"archives"`
	} `json:"data"`
}

// doSubmission interprets a generic submission response: auth failures
// never retry, transient server errors do, everything else maps to
// ok/false with no error (the platform rejected this specific file,
// which spec.md §4.9 treats as a per-file failure, not a fatal one).
func (c *Client) doSubmission(req *http.Request) (bool, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: submission request: %v", classify.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return false, fmt.Errorf("%w: submission forbidden", classify.ErrAuth)
	}
	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("%w: submission status %d", classify.ErrTransient, resp.StatusCode)
	}

	var decoded struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("%w: decode submission response: %v", classify.ErrData, err)
	}
	if decoded.Code != 0 {
		return false, nil
	}
	return true, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Cookie", c.cookie)
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; douyu-archiver/1.0)")
	req.Header.Set("Referer", c.baseURL+"/")
}

func (c *Client) retryable(ctx context.Context, op string, fn func() error) error {
	logger := log.WithStreamer("bilibili", op)
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(maxRetryAttempts),
		retry.Delay(initialRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// auth failures are fatal per spec.md §4.9's Auth error policy:
			// abort, never retry.
			return !isAuthFailure(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Uint("attempt", n).Err(err).Msg("upload API call failed, retrying")
		}),
	)
}

func isAuthFailure(err error) bool {
	return err != nil && classify.Is(err, classify.ErrAuth)
}

func multipartVideoBody(path, partName string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("title", partName); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
