// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

// Package chatlog implements the streaming, append-only XML chat-log writer
// (C2). The document root carries each message as a leaf element with a
// composite "p" attribute and the message text as body, strictly escaped.
//
// Durability follows the internal/jobs/write_unix.go
// pattern: every periodic flush renders the whole document-so-far and
// atomically replaces the on-disk file via github.com/google/renameio/v2,
// so a crash mid-flush never leaves a truncated element on disk — it leaves
// either the previous complete snapshot or the new one.
package chatlog

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

const (
	xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"
	rootOpenTag    = "<i>\n"
	rootCloseTag   = "</i>\n"

	// DefaultFlushInterval is the maximum interval between flushes while
	// messages are arriving, per spec.md §4.2.
	DefaultFlushInterval = 2 * time.Second
)

// Message defaults, per spec.md §4.2.
const (
	DefaultMode  = 1
	DefaultSize  = 25
	DefaultColor = 0xFFFFFF
)

// Writer is a streaming, append-only chat-log writer. Not safe for
// concurrent Write calls from multiple goroutines with overlapping offsets,
// but safe to call at a high rate from a single collector goroutine; Close
// may be called concurrently with a pending flush.
type Writer struct {
	mu            sync.Mutex
	path          string
	body          bytes.Buffer // accumulated <d> elements, not including root tags
	rowid         int
	lastFlush     time.Time
	flushInterval time.Duration
	closed        bool
}

// Option configures an optional Write parameter.
type Option func(*writeOpts)

type writeOpts struct {
	mode  int
	size  int
	color int
	user  string
}

func WithMode(mode int) Option   { return func(o *writeOpts) { o.mode = mode } }
func WithSize(size int) Option   { return func(o *writeOpts) { o.size = size } }
func WithColor(color int) Option { return func(o *writeOpts) { o.color = color } }
func WithUser(user string) Option { return func(o *writeOpts) { o.user = user } }

// Open truncates (creates) path and primes the writer. The XML declaration
// and opening root tag are written to disk immediately, through the same
// atomic replace that every later flush uses, so Open never leaves a
// partially written file.
func Open(path string) (*Writer, error) {
	w := &Writer{
		path:          path,
		flushInterval: DefaultFlushInterval,
		lastFlush:     time.Time{},
	}
	// Establish the file immediately so downstream observers see it appear
	// as soon as the segment starts, per spec.md §4.2 "truncates, writes
	// XML declaration and opening root tag; flushes to disk."
	if err := w.flushLocked(); err != nil {
		return nil, fmt.Errorf("chatlog: open %s: %w", path, err)
	}
	return w, nil
}

// Write appends one message element. offsetSeconds is the segment-relative
// offset in seconds (millisecond precision is preserved via the float's
// fractional part). Safe to call at a high rate; the file is only touched
// at most every flushInterval (or on Close).
func (w *Writer) Write(offsetSeconds float64, text string, opts ...Option) error {
	o := writeOpts{mode: DefaultMode, size: DefaultSize, color: DefaultColor}
	for _, opt := range opts {
		opt(&o)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("chatlog: write after close")
	}

	w.rowid++
	p := fmt.Sprintf("%.3f,%d,%d,%d,%d,%d,%s,%d",
		offsetSeconds, o.mode, o.size, o.color, time.Now().Unix(), 0, o.user, w.rowid)

	w.body.WriteString(`<d p="`)
	xml.EscapeText(&w.body, []byte(p))
	w.body.WriteString(`">`)
	xml.EscapeText(&w.body, []byte(text))
	w.body.WriteString("</d>\n")

	if time.Since(w.lastFlush) >= w.flushInterval {
		return w.flushLocked()
	}
	return nil
}

// Flush forces a durable write of everything buffered so far, even if the
// flush interval has not elapsed.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flushLocked()
}

// flushLocked renders the full document-so-far (declaration + open root +
// all elements, WITHOUT the closing root tag) and atomically replaces the
// file on disk. Must be called with w.mu held.
func (w *Writer) flushLocked() error {
	pending, err := renameio.NewPendingFile(w.path)
	if err != nil {
		return fmt.Errorf("chatlog: create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.WriteString(xmlDeclaration); err != nil {
		return err
	}
	if _, err := pending.WriteString(rootOpenTag); err != nil {
		return err
	}
	if _, err := pending.Write(w.body.Bytes()); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("chatlog: atomic replace: %w", err)
	}
	w.lastFlush = time.Now()
	return nil
}

// Close writes the closing root tag and durably replaces the file one last
// time. After a successful Close, the file at path is a well-formed XML
// document (spec.md §4.2 invariant). Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	pending, err := renameio.NewPendingFile(w.path)
	if err != nil {
		return fmt.Errorf("chatlog: create pending file on close: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.WriteString(xmlDeclaration); err != nil {
		return err
	}
	if _, err := pending.WriteString(rootOpenTag); err != nil {
		return err
	}
	if _, err := pending.Write(w.body.Bytes()); err != nil {
		return err
	}
	if _, err := pending.WriteString(rootCloseTag); err != nil {
		return err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("chatlog: atomic replace on close: %w", err)
	}
	return nil
}
