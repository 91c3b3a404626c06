// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertUpload records one upload attempt/artifact. parentID may be nil
// (spec.md §4.8 "insertUpload").
func (s *Store) InsertUpload(ctx context.Context, parentID *string, title, firstPart string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO upload_records (parent_id, title, first_part_filename, upload_time) VALUES (?, ?, ?, ?)`,
		nullableString(parentID), title, firstPart, at.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert upload: %w", err)
	}
	return res.LastInsertId()
}

// SetParentID back-fills the parent-platform id for an existing record.
func (s *Store) SetParentID(ctx context.Context, id int64, parentID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE upload_records SET parent_id = ? WHERE id = ?`, parentID, id)
	if err != nil {
		return fmt.Errorf("store: set parent id for %d: %w", id, err)
	}
	return nil
}

// FindUploadsInWindow returns every upload record whose upload_time falls in
// [start, end], ordered by insertion (id) order (spec.md §5 "C9 observes
// upload records in insertion order").
func (s *Store) FindUploadsInWindow(ctx context.Context, start, end time.Time) ([]UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, title, first_part_filename, upload_time FROM upload_records
		 WHERE upload_time >= ? AND upload_time <= ?
		 ORDER BY id ASC`, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: find uploads in window: %w", err)
	}
	defer rows.Close()

	var out []UploadRecord
	for rows.Next() {
		rec, err := scanUploadRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountUploadsInWindow returns the number of upload records in [start, end].
// The next part number for an append is this count + 1 (spec.md §4.9).
func (s *Store) CountUploadsInWindow(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_records WHERE upload_time >= ? AND upload_time <= ?`,
		start.Unix(), end.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count uploads in window: %w", err)
	}
	return n, nil
}

// FindUploadsMissingParentID returns every upload record whose parent id is
// still null, for the periodic back-fill task (spec.md §4.9).
func (s *Store) FindUploadsMissingParentID(ctx context.Context) ([]UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, title, first_part_filename, upload_time FROM upload_records
		 WHERE parent_id IS NULL OR parent_id = ''
		 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: find uploads missing parent id: %w", err)
	}
	defer rows.Close()

	var out []UploadRecord
	for rows.Next() {
		rec, err := scanUploadRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func scanUploadRecord(row rowScanner) (*UploadRecord, error) {
	var (
		rec       UploadRecord
		parentID  sql.NullString
		uploadAt  int64
	)
	if err := row.Scan(&rec.ID, &parentID, &rec.Title, &rec.FirstPartFilename, &uploadAt); err != nil {
		return nil, err
	}
	if parentID.Valid && parentID.String != "" {
		v := parentID.String
		rec.ParentID = &v
	}
	rec.UploadTime = time.Unix(uploadAt, 0)
	return &rec, nil
}
