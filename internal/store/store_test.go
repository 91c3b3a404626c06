// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archiver.db")
	s, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCloseLatestOpenSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Now().Add(-10 * time.Minute)
	id, err := s.OpenSession(ctx, "S", start)
	require.NoError(t, err)

	open, err := s.LatestOpenSession(ctx, "S")
	require.NoError(t, err)
	require.NotNil(t, open)
	require.Equal(t, id, open.ID)
	require.True(t, open.IsOpen())

	require.NoError(t, s.CloseSession(ctx, id, time.Now()))

	open, err = s.LatestOpenSession(ctx, "S")
	require.NoError(t, err)
	require.Nil(t, open)
}

func TestCloseStaleSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	staleStart := time.Now().Add(-48 * time.Hour)
	freshStart := time.Now().Add(-1 * time.Minute)

	staleID, err := s.OpenSession(ctx, "Stale", staleStart)
	require.NoError(t, err)
	_, err = s.OpenSession(ctx, "Fresh", freshStart)
	require.NoError(t, err)

	n, err := s.CloseStaleSessions(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	stale, err := s.LatestOpenSession(ctx, "Stale")
	require.NoError(t, err)
	require.Nil(t, stale)
	_ = staleID

	fresh, err := s.LatestOpenSession(ctx, "Fresh")
	require.NoError(t, err)
	require.NotNil(t, fresh)
}

func TestUploadRecordLifecycleAndPartNumbering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	windowStart := time.Now().Add(-2 * time.Hour)
	windowEnd := time.Now()

	_, err := s.InsertUpload(ctx, nil, "title", "part1.mp4", time.Now().Add(-90*time.Minute))
	require.NoError(t, err)

	n, err := s.CountUploadsInWindow(ctx, windowStart, windowEnd)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	missing, err := s.FindUploadsMissingParentID(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, s.SetParentID(ctx, missing[0].ID, "BV123"))

	records, err := s.FindUploadsInWindow(ctx, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].HasParent())
	require.Equal(t, "BV123", *records[0].ParentID)

	missing, err = s.FindUploadsMissingParentID(ctx)
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestFindUploadsInWindowPreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		_, err := s.InsertUpload(ctx, nil, "t", "p.mp4", base)
		require.NoError(t, err)
	}

	records, err := s.FindUploadsInWindow(ctx, base.Add(-time.Minute), time.Now())
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.True(t, records[0].ID < records[1].ID)
	require.True(t, records[1].ID < records[2].ID)
}
