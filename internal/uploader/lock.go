// Copyright (c) 2026 StreamVault
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v1.0.0, this software is restricted to non-commercial use only.

package uploader

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock key only if it still holds our token,
// so a lock that already expired and was re-acquired by another instance
// is never stolen out from under it.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Lock is a Redis-backed non-reentrant lock ensuring at most one upload
// task instance runs at a time across process instances (spec.md §4.9
// "Concurrency discipline"), using the go-redis client
// construction in internal/cache/redis.go.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewLock creates a Lock using client, held under key for ttl per
// acquisition. ttl must comfortably exceed one upload task run; the lock is
// renewed by re-acquiring on the next tick, not held open indefinitely.
func NewLock(client *redis.Client, key string, ttl time.Duration) *Lock {
	return &Lock{client: client, key: key, ttl: ttl}
}

// TryAcquire attempts to take the lock, returning false if another instance
// already holds it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("uploader: lock acquire: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release drops the lock if it is still held by this instance's token.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Err()
	l.token = ""
	if err != nil {
		return fmt.Errorf("uploader: lock release: %w", err)
	}
	return nil
}
