// Package store abstracts the shared counter store that keeps all
// cross-instance gateway state: rate-limit buckets, flood and brute-force
// counters, key records and indices, and the security event feed. Redis is
// the only production implementation; tests substitute an in-memory mock.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no value in the store.
var ErrNotFound = errors.New("store: key not found")

// Member is a scored member of a sorted set.
type Member struct {
	Score  float64
	Member string
}

// Store is the atomic key-value/counter service every stateful component
// shares. All counter mutations are single round trips so concurrent
// requests across instances never race on read-modify-write.
type Store interface {
	// IncrWithExpiry atomically increments key and, when the increment
	// created the key, sets its TTL. Returns the post-increment count.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, members ...Member) error
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Ping(ctx context.Context) error
	Close() error
}
