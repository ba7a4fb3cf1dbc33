package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Config sizes the response cache. Redis == nil keeps it in-process.
type Config struct {
	Capacity int
	TTL      time.Duration
	Redis    *RedisConfig
}

// DefaultConfig matches the gateway's shipped cache sizing.
func DefaultConfig() Config {
	return Config{Capacity: 1000, TTL: time.Minute}
}

// ResponseCache stores completed non-streaming upstream responses: a local
// LRU in front of an optional shared Redis level. Entries are keyed by
// (model, caller-scoped key); the dispatcher's key already binds the entry
// to one apiKey, so nothing here is shared across tenants.
type ResponseCache struct {
	local *LRU
	redis *redisLayer
}

// NewResponseCache builds the cache; a dead Redis degrades to local-only
// with a logged warning rather than an error.
func NewResponseCache(cfg Config) *ResponseCache {
	if cfg.Capacity <= 0 {
		cfg = DefaultConfig()
	}
	c := &ResponseCache{local: NewLRU(cfg.Capacity, cfg.TTL)}
	if cfg.Redis != nil {
		c.redis = newRedisLayer(*cfg.Redis)
	}
	return c
}

func cacheKey(model, key string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + key))
	return "resp:" + hex.EncodeToString(sum[:])
}

// Get checks the local level first, then Redis, promoting a Redis hit into
// the local level on the way back.
func (c *ResponseCache) Get(model, key string) ([]byte, bool) {
	k := cacheKey(model, key)
	if body, ok := c.local.Get(k); ok {
		return body, true
	}
	if c.redis != nil {
		if body, ok := c.redis.get(context.Background(), k); ok {
			c.local.Set(k, body)
			return body, true
		}
	}
	return nil, false
}

// Set writes through both levels.
func (c *ResponseCache) Set(model, key string, body []byte) {
	k := cacheKey(model, key)
	c.local.Set(k, body)
	if c.redis != nil {
		c.redis.set(context.Background(), k, body)
	}
}

// SystemStats aggregates the cache's layer counters for introspection.
type SystemStats struct {
	Local          Stats `json:"local"`
	RedisConnected bool  `json:"redis_connected"`
}

func (c *ResponseCache) Stats() SystemStats {
	return SystemStats{Local: c.local.Stats(), RedisConnected: c.redis != nil}
}

// Close releases the Redis connection if one was established.
func (c *ResponseCache) Close() error {
	if c.redis != nil {
		return c.redis.close()
	}
	return nil
}
