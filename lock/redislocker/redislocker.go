// Package redislocker implements store.Locker over Redis using SetNX
// plus a TTL, directly grounded in the teacher's RedisRepository.AcquireLock
// (db/repository/redis.go): "SET key value NX EX ttl" so a lock claim is
// atomic and self-expiring if a process dies while holding one.
package redislocker

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evalgo/gdbtx/model"
	"github.com/evalgo/gdbtx/store"
)

var _ store.Locker = (*Locker)(nil)

// Locker is a Redis-backed distributed optimistic lock for
// BackendTransaction.acquireEdgeLock/acquireIndexLock.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// New wraps an existing *redis.Client. ttl bounds how long an unreleased
// lock (e.g. held by a process that crashed mid-commit) stays claimed.
func New(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Open parses url (redis://...) and connects, pinging to fail fast on a
// bad address — the same connect-then-Ping pattern as
// NewRedisRepository.
func Open(url string, ttl time.Duration) (*Locker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redislocker: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redislocker: connect: %w", err)
	}
	return New(client, ttl), nil
}

func lockKey(key, column model.StaticBuffer) string {
	return "gdbtx:lock:" + hex.EncodeToString(key) + ":" + hex.EncodeToString(column)
}

// Acquire claims (key, column) with SetNX; returns an error both on a
// Redis failure and on a claim that is already held (the value is
// meaningless, only the key's existence matters, same as the teacher's
// lockData-as-debugging-breadcrumb pattern).
func (l *Locker) Acquire(ctx context.Context, key, column model.StaticBuffer) error {
	ok, err := l.client.SetNX(ctx, lockKey(key, column), time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redislocker: acquire: %w", err)
	}
	if !ok {
		return fmt.Errorf("redislocker: lock already held for key %x column %x", key, column)
	}
	return nil
}

// Release deletes the lock key. Safe to call even if the lock already
// expired.
func (l *Locker) Release(ctx context.Context, key, column model.StaticBuffer) error {
	if err := l.client.Del(ctx, lockKey(key, column)).Err(); err != nil {
		return fmt.Errorf("redislocker: release: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (l *Locker) Close() error {
	return l.client.Close()
}
