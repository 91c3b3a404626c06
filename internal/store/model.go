// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package store

import "time"

// Session is a contiguous live session for one streamer (spec.md §3).
type Session struct {
	ID           int64
	StreamerName string
	StartTime    *time.Time
	EndTime      *time.Time
	CreatedAt    time.Time
}

// IsOpen reports whether the session has not yet been closed.
func (s Session) IsOpen() bool { return s.EndTime == nil }

// UploadRecord is a persisted record of one upload attempt/artifact
// (spec.md §3). ParentID is nil until the platform submission id is known.
type UploadRecord struct {
	ID                 int64
	ParentID           *string
	Title              string
	FirstPartFilename  string
	UploadTime         time.Time
}

// HasParent reports whether this record carries a back-filled parent id.
func (u UploadRecord) HasParent() bool { return u.ParentID != nil && *u.ParentID != "" }
