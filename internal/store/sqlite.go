// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package store implements the session store (C8): a single file-backed
// relational store holding StreamSessions and UploadRecords, accessed
// exclusively through the narrow API in spec.md §4.8.
//
// The SQLite connection setup follows the
// internal/persistence/sqlite/config.go (WAL mode, busy_timeout pragma,
// pure-Go modernc.org/sqlite driver); the PRAGMA user_version migration
// gate is grounded on internal/domain/session/store/sqlite_store.go.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver
)

const schemaVersion = 1

// Config configures the underlying SQLite connection pool.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig mirrors the recommended SQLite operational
// parameters for a single-writer, WAL-mode workload.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// Store is the session store (C8).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path and applies
// migrations.
func Open(path string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		streamer_name TEXT NOT NULL,
		start_time INTEGER,
		end_time INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_streamer ON sessions(streamer_name);
	CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(streamer_name, end_time);

	CREATE TABLE IF NOT EXISTS upload_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parent_id TEXT,
		title TEXT NOT NULL,
		first_part_filename TEXT NOT NULL,
		upload_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_upload_records_time ON upload_records(upload_time);
	CREATE INDEX IF NOT EXISTS idx_upload_records_parent ON upload_records(parent_id);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}
