// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package uploader implements the upload state machine (C9): idempotent,
// session-grouped publication of staged media files against the
// destination platform, serialized across instances by Lock and grounded
// in session bookkeeping from internal/store (C8).
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamvault/douyu-archiver/internal/log"
	"github.com/streamvault/douyu-archiver/internal/metadata"
	"github.com/streamvault/douyu-archiver/internal/metrics"
	"github.com/streamvault/douyu-archiver/internal/ports"
	"github.com/streamvault/douyu-archiver/internal/store"
)

const (
	defaultSessionLookback = 3 * 24 * time.Hour // spec.md §4.9 "last 3 days"
	backfillAttempts       = 3
	backfillDelay          = 15 * time.Second
	feedPageSize           = 50
)

var feedStatusSet = []string{"published", "being-published"}

// stagedFilePattern matches filenames produced by the segment coordinator
// (spec.md §6 "{streamer}录播{YYYY-MM-DDTHH_mm_ss}"); the timestamp is
// parsed to bucket the file into a session window.
var stagedFilePattern = regexp.MustCompile(`^(.+)录播(\d{4}-\d{2}-\d{2}T\d{2}_\d{2}_\d{2})\.[A-Za-z0-9]+$`)

// Config configures a Task.
type Config struct {
	StagingDir        string
	BufferMinutes     int // session window padding on both sides
	SessionLookback   time.Duration
	DeleteAfterUpload bool
	Metadata          metadata.Config
	TitleSuffix       string // the configured danmaku/no-danmaku suffix for this deployment
}

func (c Config) lookback() time.Duration {
	if c.SessionLookback > 0 {
		return c.SessionLookback
	}
	return defaultSessionLookback
}

// Task is the C9 upload state machine. One Task instance runs at a time
// across the whole deployment, enforced by lock.
type Task struct {
	cfg    Config
	store  *store.Store
	client ports.UploadClient
	lock   *Lock

	// backfillAttemptsN/backfillDelayD default to 3 attempts / 15s apart
	// (spec.md §4.9); tests override them to avoid real sleeps.
	backfillAttemptsN int
	backfillDelayD    time.Duration
}

// New creates a Task.
func New(cfg Config, st *store.Store, client ports.UploadClient, lock *Lock) *Task {
	return &Task{
		cfg:               cfg,
		store:             st,
		client:            client,
		lock:              lock,
		backfillAttemptsN: backfillAttempts,
		backfillDelayD:    backfillDelay,
	}
}

type stagedFile struct {
	path      string
	streamer  string
	timestamp time.Time
}

// Run performs one tick: acquire the serialization lock, back-fill parent
// ids for records still missing one, then run the bucketed upload round
// (spec.md §4.9 "Periodic back-fill task ... runs before the upload task
// each tick").
func (t *Task) Run(ctx context.Context) error {
	acquired, err := t.lock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("uploader: %w", err)
	}
	if !acquired {
		log.WithComponent("uploader").Debug().Msg("skipped tick, another instance holds the upload lock")
		return nil
	}
	defer func() { _ = t.lock.Release(ctx) }()

	logger := log.WithComponent("uploader")

	loggedIn, err := t.client.CheckLogin(ctx)
	if err != nil || !loggedIn {
		logger.Error().Err(err).Bool("logged_in", loggedIn).Msg("login check failed, aborting upload tick")
		return fmt.Errorf("uploader: login check failed: %w", err)
	}

	t.backfillParentIDs(ctx, logger)
	return t.runUploadRound(ctx, logger)
}

// backfillParentIDs implements the periodic back-fill task: every record
// still missing a parent id is matched against the platform feed by exact
// title (spec.md §4.9 "Periodic back-fill task").
func (t *Task) backfillParentIDs(ctx context.Context, logger zerolog.Logger) {
	pending, err := t.store.FindUploadsMissingParentID(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load uploads missing parent id")
		return
	}
	if len(pending) == 0 {
		return
	}

	feed, err := t.client.Feed(ctx, feedPageSize, feedStatusSet)
	if err != nil {
		logger.Warn().Err(err).Msg("feed query failed during back-fill")
		return
	}

	for _, rec := range pending {
		parentID, ok := feed[rec.Title]
		if !ok {
			continue
		}
		if err := t.store.SetParentID(ctx, rec.ID, parentID); err != nil {
			logger.Warn().Err(err).Int64("upload_id", rec.ID).Msg("failed to persist back-filled parent id")
			continue
		}
		logger.Info().Int64("upload_id", rec.ID).Str("title", rec.Title).Msg("back-filled parent id")
	}
}

// runUploadRound enumerates staged files, buckets them into sessions, and
// classifies/processes each non-empty bucket (spec.md §4.9 "Algorithm").
func (t *Task) runUploadRound(ctx context.Context, logger zerolog.Logger) error {
	files, err := t.listStagedFiles()
	if err != nil {
		return fmt.Errorf("uploader: list staged files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	sessions, err := t.store.SessionsSince(ctx, time.Now().Add(-t.cfg.lookback()))
	if err != nil {
		return fmt.Errorf("uploader: load sessions: %w", err)
	}

	buckets, orphans := bucketFiles(files, sessions, time.Duration(t.cfg.BufferMinutes)*time.Minute)
	for _, f := range orphans {
		logger.Warn().Str("file", f.path).Time("timestamp", f.timestamp).Msg("staged file matched no session window, skipping this round")
		metrics.UploadBucketsTotal.WithLabelValues("orphan").Inc()
	}

	for _, b := range buckets {
		t.processBucket(ctx, logger, b)
	}
	return nil
}

type bucket struct {
	session store.Session
	start   time.Time
	end     time.Time
	files   []stagedFile
}

// bucketFiles assigns each file to the first session whose padded window
// contains its timestamp (spec.md §4.9 step 3).
func bucketFiles(files []stagedFile, sessions []store.Session, buffer time.Duration) ([]bucket, []stagedFile) {
	buckets := make([]bucket, 0, len(sessions))
	for _, s := range sessions {
		start := time.Time{}
		if s.StartTime != nil {
			start = s.StartTime.Add(-buffer)
		}
		end := time.Now().Add(buffer)
		if s.EndTime != nil {
			end = s.EndTime.Add(buffer)
		}
		buckets = append(buckets, bucket{session: s, start: start, end: end})
	}

	var orphans []stagedFile
	for _, f := range files {
		placed := false
		for i := range buckets {
			b := &buckets[i]
			if b.session.StartTime == nil || b.session.StreamerName != f.streamer {
				continue
			}
			if !f.timestamp.Before(b.start) && !f.timestamp.After(b.end) {
				b.files = append(b.files, f)
				placed = true
				break
			}
		}
		if !placed {
			orphans = append(orphans, f)
		}
	}

	nonEmpty := buckets[:0]
	for _, b := range buckets {
		if len(b.files) > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	return nonEmpty, orphans
}

// processBucket classifies one session's bucket and drives the
// corresponding upload path (spec.md §4.9 step 4).
func (t *Task) processBucket(ctx context.Context, logger zerolog.Logger, b bucket) {
	records, err := t.store.FindUploadsInWindow(ctx, b.start, b.end)
	if err != nil {
		logger.Warn().Err(err).Int64("session_id", b.session.ID).Msg("failed to query uploads in window")
		return
	}

	// A file already recorded as some part's first-part filename was
	// handled in an earlier round; re-offering it (staging is only
	// cleared when delete-after-upload is on) must not re-append or
	// re-upload it, or a repeated tick with no new files would not be a
	// no-op (spec.md §8 idempotence).
	b.files = skipRecordedFiles(b.files, records)
	if len(b.files) == 0 {
		return
	}

	switch {
	case hasParent(records):
		metrics.UploadBucketsTotal.WithLabelValues("ready_append").Inc()
		t.appendFiles(ctx, logger, b, records)
	case len(records) > 0:
		metrics.UploadBucketsTotal.WithLabelValues("pending_bvid").Inc()
		logger.Info().Int64("session_id", b.session.ID).Msg("parent id not yet back-filled, skipping bucket this round")
	default:
		metrics.UploadBucketsTotal.WithLabelValues("new_upload").Inc()
		t.createNewUpload(ctx, logger, b)
	}
}

// skipRecordedFiles drops any staged file whose base filename already
// appears as a FirstPartFilename among records, so a file recorded in a
// prior round (e.g. the one that became a parent's first part) is never
// appended or uploaded again.
func skipRecordedFiles(files []stagedFile, records []store.UploadRecord) []stagedFile {
	recorded := make(map[string]bool, len(records))
	for _, r := range records {
		recorded[r.FirstPartFilename] = true
	}

	out := files[:0]
	for _, f := range files {
		if recorded[filepath.Base(f.path)] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func hasParent(records []store.UploadRecord) bool {
	for _, r := range records {
		if r.HasParent() {
			return true
		}
	}
	return false
}

func parentOf(records []store.UploadRecord) string {
	for _, r := range records {
		if r.HasParent() {
			return *r.ParentID
		}
	}
	return ""
}

// titleOf returns the shared submission title recorded for this bucket's
// parts; every part of the same parent submission stores the same title.
func titleOf(records []store.UploadRecord) string {
	for _, r := range records {
		if r.Title != "" {
			return r.Title
		}
	}
	return ""
}

// appendFiles appends every file in b to the already-known parent
// submission, one part number per successful append; a failed append is
// logged and leaves no record, so its slot is retried next round with the
// same part number (spec.md §4.9 "Part numbering", "Error semantics").
func (t *Task) appendFiles(ctx context.Context, logger zerolog.Logger, b bucket, records []store.UploadRecord) {
	parentID := parentOf(records)
	title := titleOf(records)
	count, err := t.store.CountUploadsInWindow(ctx, b.start, b.end)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to count uploads in window, skipping append bucket")
		return
	}

	for _, f := range sortByTimestamp(b.files) {
		partNum := count + 1
		partName := partName(b.session, partNum)

		ok, err := t.client.AppendPart(ctx, f.path, parentID, "", partName)
		if err != nil || !ok {
			logger.Warn().Err(err).Str("file", f.path).Msg("append failed, leaving no record for this file")
			metrics.UploadCallsTotal.WithLabelValues("append", "failure").Inc()
			continue
		}
		metrics.UploadCallsTotal.WithLabelValues("append", "success").Inc()

		if _, err := t.store.InsertUpload(ctx, &parentID, title, filepath.Base(f.path), time.Now()); err != nil {
			logger.Error().Err(err).Str("file", f.path).Msg("append succeeded but failed to persist record")
			continue
		}
		count++
		t.maybeDelete(logger, f.path)
	}
}

// createNewUpload creates a parent submission from the bucket's first file,
// writes a parent-id-null record, then attempts to back-fill the id before
// returning; remaining files in the bucket are left for later rounds
// (spec.md §4.9 "NEW_UPLOAD").
func (t *Task) createNewUpload(ctx context.Context, logger zerolog.Logger, b bucket) {
	files := sortByTimestamp(b.files)
	first := files[0]
	title := t.cfg.Metadata.Title(b.session.StreamerName, sessionStart(b.session), t.cfg.TitleSuffix)
	firstPartName := partName(b.session, 1)

	ok, err := t.client.UploadNew(ctx, first.path, ports.SubmissionMeta{
		Title:       title,
		Description: t.cfg.Metadata.Description,
		Tags:        t.cfg.Metadata.Tags,
		CoverPath:   t.cfg.Metadata.CoverPath,
		PartName:    firstPartName,
	})
	if err != nil || !ok {
		logger.Warn().Err(err).Str("file", first.path).Msg("new upload failed, no record written, file remains for next round")
		metrics.UploadCallsTotal.WithLabelValues("new", "failure").Inc()
		return
	}
	metrics.UploadCallsTotal.WithLabelValues("new", "success").Inc()

	id, err := t.store.InsertUpload(ctx, nil, title, filepath.Base(first.path), time.Now())
	if err != nil {
		logger.Error().Err(err).Str("file", first.path).Msg("upload succeeded but failed to persist record")
		return
	}
	t.maybeDelete(logger, first.path)

	t.backfillOne(ctx, logger, id, title)
}

// backfillOne polls the feed up to backfillAttempts times, backfillDelay
// apart, for a single freshly-created submission (spec.md §4.9
// "Parent-id back-fill").
func (t *Task) backfillOne(ctx context.Context, logger zerolog.Logger, uploadID int64, title string) {
	for attempt := 1; attempt <= t.backfillAttemptsN; attempt++ {
		feed, err := t.client.Feed(ctx, feedPageSize, feedStatusSet)
		if err == nil {
			if parentID, ok := feed[title]; ok {
				if err := t.store.SetParentID(ctx, uploadID, parentID); err != nil {
					logger.Warn().Err(err).Int64("upload_id", uploadID).Msg("failed to persist parent id on first back-fill")
				}
				return
			}
		} else {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("feed query failed during initial back-fill")
		}

		if attempt == t.backfillAttemptsN {
			return
		}
		if !asyncSleep(ctx, t.backfillDelayD) {
			return
		}
	}
}

func (t *Task) maybeDelete(logger zerolog.Logger, path string) {
	if !t.cfg.DeleteAfterUpload {
		return
	}
	if err := os.Remove(path); err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("failed to delete staged file after successful upload")
	}
}

// asyncSleep waits for d or ctx cancellation, returning false if cancelled
// (spec.md §5 "All waits use asynchronous sleeps; blocking sleeps are
// forbidden").
func asyncSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sessionStart returns the session's start time, falling back to its
// creation time for sessions that somehow lack one.
func sessionStart(s store.Session) time.Time {
	if s.StartTime != nil {
		return *s.StartTime
	}
	return s.CreatedAt
}

// partName derives the part name passed to the upload call, starting
// with "P{n} " so downstream platform listings sort and display parts in
// order (spec.md §4.9 "The part title must be passed to the upload call").
func partName(s store.Session, partNum int) string {
	return fmt.Sprintf("P%d %s录播%s", partNum, s.StreamerName, sessionStart(s).Format("2006-01-02"))
}

func sortByTimestamp(files []stagedFile) []stagedFile {
	out := make([]stagedFile, len(files))
	copy(out, files)
	sort.Slice(out, func(i, j int) bool { return out[i].timestamp.Before(out[j].timestamp) })
	return out
}

// listStagedFiles enumerates the staging directory and parses each
// filename's embedded timestamp (spec.md §4.9 "Preconditions").
func (t *Task) listStagedFiles() ([]stagedFile, error) {
	entries, err := os.ReadDir(t.cfg.StagingDir)
	if err != nil {
		return nil, err
	}

	var out []stagedFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := stagedFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02T15_04_05", m[2], time.Local)
		if err != nil {
			continue
		}
		out = append(out, stagedFile{
			path:      filepath.Join(t.cfg.StagingDir, e.Name()),
			streamer:  m[1],
			timestamp: ts,
		})
	}
	return out, nil
}
