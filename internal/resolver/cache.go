// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package resolver

import (
	"encoding/json"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// MaterialCache caches getEncryption material per room id, shaped after
// the internal/cache.Cache interface (Get/Set/Delete), narrowed to
// this component's single use case.
type MaterialCache interface {
	Get(roomID string) (cacheEntry, bool)
	Set(roomID string, entry cacheEntry, ttl time.Duration)
	Invalidate(roomID string)
	Close() error
}

// BadgerCache is a disk-persisted MaterialCache so the 24h cache survives
// process restarts, unlike a plain in-memory map. Uses the badger/v4
// dependency already present in this module's go.mod (otherwise unused in
// this module's scope — see DESIGN.md).
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens (creating if necessary) a badger database at dir.
func NewBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Get(roomID string) (cacheEntry, bool) {
	var entry cacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *BadgerCache) Set(roomID string, entry cacheEntry, ttl time.Duration) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(roomID), data).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

func (c *BadgerCache) Invalidate(roomID string) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(roomID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (c *BadgerCache) Close() error { return c.db.Close() }

// memoryCache is a MaterialCache used by tests so the resolver's behavior
// can be verified without a badger directory on disk.
type memoryCache struct {
	entries map[string]memEntry
}

type memEntry struct {
	entry   cacheEntry
	expires time.Time
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]memEntry)}
}

func (c *memoryCache) Get(roomID string) (cacheEntry, bool) {
	e, ok := c.entries[roomID]
	if !ok || time.Now().After(e.expires) {
		return cacheEntry{}, false
	}
	return e.entry, true
}

func (c *memoryCache) Set(roomID string, entry cacheEntry, ttl time.Duration) {
	c.entries[roomID] = memEntry{entry: entry, expires: time.Now().Add(ttl)}
}

func (c *memoryCache) Invalidate(roomID string) { delete(c.entries, roomID) }
func (c *memoryCache) Close() error             { return nil }
