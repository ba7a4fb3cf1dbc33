// Package kvstore provides a typed key-value abstraction over Redis used by
// account repositories, the cost-rank index, and usage counters. Where the
// response cache's Redis level in internal/cache only gets and sets plain
// strings, this surface adds the hash/set/sorted-set operations those
// callers need.
package kvstore

import (
	"context"
	"time"
)

// Store is the typed KV surface the gateway's domain packages depend on.
// RedisStore is the production implementation; MemoryStore backs tests.
type Store interface {
	// String ops.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Hash ops.
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// Set ops.
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Sorted-set ops, used by the cost-rank index and sticky
	// session LRU-by-lastUsedAt scans.
	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRevRangeWithScores returns the top `count` members by descending
	// score (rank 0 = highest), used for cost-rank leaderboards.
	ZRevRangeWithScores(ctx context.Context, key string, offset, count int64) ([]ZMember, error)
	ZRangeByScoreWithScores(ctx context.Context, key string, min, max float64) ([]ZMember, error)

	// Rename atomically swaps key for newKey, overwriting newKey if it
	// exists. Used by the cost-rank index's build-then-swap refresh.
	Rename(ctx context.Context, key, newKey string) error

	// Scan walks keys matching pattern, returning the next cursor (0 when
	// exhausted) and a batch of matched keys.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, nextCursor uint64, err error)

	Ping(ctx context.Context) error
	Close() error
}

// ZMember is one element of a sorted-set operation.
type ZMember struct {
	Member string
	Score  float64
}

// ErrNotFound is returned by Get/HGet when the key or field is absent. Callers
// that treat a miss as "unset" rather than an error should check errors.Is
// against this sentinel.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "kvstore: key not found" }
