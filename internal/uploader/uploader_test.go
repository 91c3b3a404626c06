// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/douyu-archiver/internal/metadata"
	"github.com/streamvault/douyu-archiver/internal/ports"
	"github.com/streamvault/douyu-archiver/internal/store"
)

func newTestLock(t *testing.T) *Lock {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLock(client, "upload-lock", time.Minute)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archiver.db")
	st, err := store.Open(path, store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// fakeUploadClient records calls and lets tests script outcomes.
type fakeUploadClient struct {
	mu sync.Mutex

	loggedIn      bool
	uploadNewOK   bool
	appendOK      func(path string) bool
	feedResponses map[string]string

	newCalls    []string
	appendCalls []string
	appendNames []string
	newMeta     []ports.SubmissionMeta
}

func (f *fakeUploadClient) CheckLogin(ctx context.Context) (bool, error) {
	return f.loggedIn, nil
}

func (f *fakeUploadClient) UploadNew(ctx context.Context, path string, meta ports.SubmissionMeta) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newCalls = append(f.newCalls, path)
	f.newMeta = append(f.newMeta, meta)
	return f.uploadNewOK, nil
}

func (f *fakeUploadClient) AppendPart(ctx context.Context, path, parentID, cdn, partName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls = append(f.appendCalls, path)
	f.appendNames = append(f.appendNames, partName)
	if f.appendOK == nil {
		return true, nil
	}
	return f.appendOK(path), nil
}

func (f *fakeUploadClient) Feed(ctx context.Context, size int, statusSet []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.feedResponses))
	for k, v := range f.feedResponses {
		out[k] = v
	}
	return out, nil
}

func writeStaged(t *testing.T, dir, streamer string, ts time.Time, ext string) string {
	t.Helper()
	name := streamer + "录播" + ts.Format("2006-01-02T15_04_05") + "." + ext
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func TestRun_NewUploadBackfillsThenAppendsNextRound(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	start := time.Now().Add(-time.Hour)
	sessionID, err := st.OpenSession(ctx, "teststreamer", start)
	require.NoError(t, err)
	_ = sessionID

	first := writeStaged(t, dir, "teststreamer", start.Add(time.Minute), "flv")
	second := writeStaged(t, dir, "teststreamer", start.Add(2*time.Minute), "flv")

	client := &fakeUploadClient{loggedIn: true, uploadNewOK: true, feedResponses: map[string]string{}}
	task := New(Config{StagingDir: dir, BufferMinutes: 10}, st, client, newTestLock(t))
	task.backfillAttemptsN = 2
	task.backfillDelayD = time.Millisecond

	// Round 1: NEW_UPLOAD picks the first file; feed has no match yet so the
	// id stays null; second file is left for the next round.
	require.NoError(t, task.Run(ctx))

	records, err := st.FindUploadsInWindow(ctx, start.Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, filepath.Base(first), records[0].FirstPartFilename)
	assert.False(t, records[0].HasParent())
	assert.Len(t, client.newCalls, 1)
	assert.Empty(t, client.appendCalls)

	// The platform now reports the submission as published; back-fill on
	// the next tick should pick it up before the append path runs.
	client.feedResponses[records[0].Title] = "BV_parent_1"

	require.NoError(t, task.Run(ctx))

	records, err = st.FindUploadsInWindow(ctx, start.Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].HasParent())
	assert.Equal(t, "BV_parent_1", *records[0].ParentID)
	assert.True(t, records[1].HasParent())
	assert.Equal(t, filepath.Base(second), records[1].FirstPartFilename)
	assert.Len(t, client.appendCalls, 1)
	assert.Equal(t, second, client.appendCalls[0])
}

func TestAppendFiles_FailureLeavesNoRecordForThatFile(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	start := time.Now().Add(-time.Hour)
	_, err := st.OpenSession(ctx, "teststreamer", start)
	require.NoError(t, err)

	parentID := "BV_existing"
	_, err = st.InsertUpload(ctx, &parentID, "teststreamer录播2026-07-30 P1", "existing.flv", start.Add(time.Minute))
	require.NoError(t, err)

	bad := writeStaged(t, dir, "teststreamer", start.Add(2*time.Minute), "flv")

	client := &fakeUploadClient{
		loggedIn: true,
		appendOK: func(path string) bool { return false },
	}
	task := New(Config{StagingDir: dir, BufferMinutes: 10}, st, client, newTestLock(t))

	require.NoError(t, task.Run(ctx))

	assert.Len(t, client.appendCalls, 1)
	assert.Equal(t, bad, client.appendCalls[0])

	records, err := st.FindUploadsInWindow(ctx, start.Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1, "failed append must not create a record")
	assert.Equal(t, "existing.flv", records[0].FirstPartFilename)
}

func TestRun_PendingBVIDSkipsBucketThisRound(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	start := time.Now().Add(-time.Hour)
	_, err := st.OpenSession(ctx, "teststreamer", start)
	require.NoError(t, err)

	_, err = st.InsertUpload(ctx, nil, "teststreamer录播2026-07-30 P1", "existing.flv", start.Add(time.Minute))
	require.NoError(t, err)

	writeStaged(t, dir, "teststreamer", start.Add(2*time.Minute), "flv")

	client := &fakeUploadClient{loggedIn: true, feedResponses: map[string]string{}}
	task := New(Config{StagingDir: dir, BufferMinutes: 10}, st, client, newTestLock(t))

	require.NoError(t, task.Run(ctx))

	assert.Empty(t, client.appendCalls)
	assert.Empty(t, client.newCalls)
}

func TestRun_OrphanFileOutsideAnySessionWindowIsSkipped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	start := time.Now().Add(-time.Hour)
	_, err := st.OpenSession(ctx, "teststreamer", start)
	require.NoError(t, err)

	writeStaged(t, dir, "teststreamer", start.Add(-48*time.Hour), "flv")

	client := &fakeUploadClient{loggedIn: true}
	task := New(Config{StagingDir: dir, BufferMinutes: 10}, st, client, newTestLock(t))

	require.NoError(t, task.Run(ctx))

	assert.Empty(t, client.newCalls)
	assert.Empty(t, client.appendCalls)
}

func TestRun_LoginFailureAbortsWithoutMutation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	start := time.Now().Add(-time.Hour)
	_, err := st.OpenSession(ctx, "teststreamer", start)
	require.NoError(t, err)
	writeStaged(t, dir, "teststreamer", start.Add(time.Minute), "flv")

	client := &fakeUploadClient{loggedIn: false}
	task := New(Config{StagingDir: dir, BufferMinutes: 10}, st, client, newTestLock(t))

	err = task.Run(ctx)
	assert.Error(t, err)
	assert.Empty(t, client.newCalls)

	records, err := st.FindUploadsInWindow(ctx, start.Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppendFiles_PartNumberContinuesFromExistingCount(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	start := time.Now().Add(-time.Hour)
	_, err := st.OpenSession(ctx, "teststreamer", start)
	require.NoError(t, err)

	parentID := "X1"
	_, err = st.InsertUpload(ctx, &parentID, "teststreamer直播录像title", "p1.flv", start.Add(time.Minute))
	require.NoError(t, err)
	_, err = st.InsertUpload(ctx, nil, "", "stale1.flv", start.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = st.InsertUpload(ctx, nil, "", "stale2.flv", start.Add(3*time.Minute))
	require.NoError(t, err)

	writeStaged(t, dir, "teststreamer", start.Add(4*time.Minute), "flv")

	client := &fakeUploadClient{loggedIn: true}
	task := New(Config{StagingDir: dir, BufferMinutes: 10}, st, client, newTestLock(t))

	require.NoError(t, task.Run(ctx))

	require.Len(t, client.appendNames, 1)
	assert.True(t, strings.HasPrefix(client.appendNames[0], "P4 "), "got %q", client.appendNames[0])
}

func TestCreateNewUpload_RendersTitleFromMetadataTemplate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	dir := t.TempDir()

	start := time.Date(2026, 2, 24, 10, 0, 0, 0, time.Local)
	_, err := st.OpenSession(ctx, "S", start)
	require.NoError(t, err)
	writeStaged(t, dir, "S", start.Add(30*time.Minute), "flv")

	client := &fakeUploadClient{loggedIn: true, uploadNewOK: true, feedResponses: map[string]string{}}
	task := New(Config{
		StagingDir:    dir,
		BufferMinutes: 10,
		Metadata:      metadata.Config{TitleTemplate: "{streamer}直播录像{time}"},
		TitleSuffix:   "弹幕版",
	}, st, client, newTestLock(t))
	task.backfillAttemptsN = 1
	task.backfillDelayD = time.Millisecond

	require.NoError(t, task.Run(ctx))

	require.Len(t, client.newMeta, 1)
	assert.Equal(t, "S直播录像2026年02月24日弹幕版", client.newMeta[0].Title)
}

func TestLock_SecondAcquireFailsUntilReleased(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l1 := NewLock(client, "k", time.Minute)
	l2 := NewLock(client, "k", time.Minute)

	ok, err := l1.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l2.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l1.Release(context.Background()))

	ok, err = l2.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
