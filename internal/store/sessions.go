// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OpenSession creates a new session for name starting at start and returns
// its id (spec.md §4.8 "openSession").
func (s *Store) OpenSession(ctx context.Context, name string, start time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (streamer_name, start_time, end_time, created_at) VALUES (?, ?, NULL, ?)`,
		name, start.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: open session: %w", err)
	}
	return res.LastInsertId()
}

// CloseSession sets end = end for the session with the given id.
func (s *Store) CloseSession(ctx context.Context, id int64, end time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET end_time = ? WHERE id = ?`, end.Unix(), id)
	if err != nil {
		return fmt.Errorf("store: close session %d: %w", id, err)
	}
	return nil
}

// LatestOpenSession returns the most recently opened session for name that
// has not been closed, or nil if there is none.
func (s *Store) LatestOpenSession(ctx context.Context, name string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, streamer_name, start_time, end_time, created_at FROM sessions
		 WHERE streamer_name = ? AND end_time IS NULL
		 ORDER BY id DESC LIMIT 1`, name)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest open session for %s: %w", name, err)
	}
	return sess, nil
}

// CloseStaleSessions closes every open session whose start time is older
// than olderThan, setting end = now (spec.md §4.8, driven by C10).
func (s *Store) CloseStaleSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET end_time = ? WHERE end_time IS NULL AND start_time IS NOT NULL AND start_time < ?`,
		time.Now().Unix(), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("store: close stale sessions: %w", err)
	}
	return res.RowsAffected()
}

// SessionsSince returns every session (open or closed) created at or after
// since, plus every still-open session whatever its age, ordered by start
// time ascending. Used by C9 to load the trailing
// window of sessions including the currently-open one.
func (s *Store) SessionsSince(ctx context.Context, since time.Time) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, streamer_name, start_time, end_time, created_at FROM sessions
		 WHERE created_at >= ? OR end_time IS NULL
		 ORDER BY start_time ASC`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: sessions since %s: %w", since, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess        Session
		start, end  sql.NullInt64
		createdAt   int64
	)
	if err := row.Scan(&sess.ID, &sess.StreamerName, &start, &end, &createdAt); err != nil {
		return nil, err
	}
	if start.Valid {
		t := time.Unix(start.Int64, 0)
		sess.StartTime = &t
	}
	if end.Valid {
		t := time.Unix(end.Int64, 0)
		sess.EndTime = &t
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	return &sess, nil
}
