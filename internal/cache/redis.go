package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisConfig dials the optional second cache level. A nil *RedisConfig on
// cache.Config means the response cache runs purely in-process.
type RedisConfig struct {
	Address      string
	Password     string
	Database     int
	KeyPrefix    string
	TTL          time.Duration
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	EnableTLS    bool
}

type redisLayer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	hits   uint64
	misses uint64
}

// newRedisLayer connects and pings; on failure it returns nil so the caller
// degrades to local-only caching rather than failing startup.
func newRedisLayer(cfg RedisConfig) *redisLayer {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warnf("cache: redis unreachable at %s, response cache is local-only", cfg.Address)
		_ = client.Close()
		return nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &redisLayer{client: client, prefix: cfg.KeyPrefix, ttl: ttl}
}

func (r *redisLayer) get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).Debug("cache: redis get failed")
		}
		return nil, false
	}
	return val, true
}

func (r *redisLayer) set(ctx context.Context, key string, value []byte) {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		log.WithError(err).Debug("cache: redis set failed")
	}
}

func (r *redisLayer) close() error { return r.client.Close() }
