package apikey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

// RateLimiter implements the sliding-window request counter: a fixed-size
// counter per key bucketed to the window's own duration, reset
// when the bucket's TTL lapses. This is the same fixed-window-via-TTL shape
// internal/accounts.Repository uses for rate-limit recovery, traded off
// against perfect sliding-window accuracy for a single INCR+EXPIRE round
// trip per request.
type RateLimiter struct {
	kv kvstore.Store
}

// NewRateLimiter builds a RateLimiter backed by kv.
func NewRateLimiter(kv kvstore.Store) *RateLimiter {
	return &RateLimiter{kv: kv}
}

func (l *RateLimiter) key(apiKeyID string) string {
	return fmt.Sprintf("apikey_ratelimit:%s", apiKeyID)
}

// Allow increments the window's request counter for k and reports whether
// the request is within k.RateLimit. A zero-value RateLimit (Requests == 0)
// disables limiting entirely. The first increment anchors the window: it
// stamps window_start and sets the hash's TTL to the window duration, so
// requests, tokens, and cost all lapse together.
func (l *RateLimiter) Allow(ctx context.Context, k *ApiKey) (bool, error) {
	if k.RateLimit.Requests <= 0 {
		return true, nil
	}
	key := l.key(k.ID)
	count, err := l.kv.HIncrBy(ctx, key, "requests", 1)
	if err != nil {
		return false, err
	}
	if count == 1 {
		l.anchorWindow(ctx, key, k.RateLimit)
	}
	return count <= int64(k.RateLimit.Requests), nil
}

func (l *RateLimiter) anchorWindow(ctx context.Context, key string, win RateLimitWindow) {
	_ = l.kv.HSet(ctx, key, map[string]string{"window_start": strconv.FormatInt(time.Now().Unix(), 10)})
	ttl := time.Duration(win.Seconds) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	_ = l.kv.Expire(ctx, key, ttl)
}

// RecordUsage applies one completed call's tokens and cost to the key's
// current window, alongside the request tick Allow already made. Cost
// accumulates as integer micro-dollars so every field stays
// HIncrBy-compatible, the same trade the usage ledger makes. The returned
// window totals are for the caller's log line only, never for the client.
// If the window lapsed between Allow and here, the increment re-anchors it.
func (l *RateLimiter) RecordUsage(ctx context.Context, apiKeyID string, win RateLimitWindow, tokens int64, costUSD float64) (int64, float64, error) {
	if win.Seconds <= 0 && win.Requests <= 0 {
		return 0, 0, nil
	}
	key := l.key(apiKeyID)
	totalTokens, err := l.kv.HIncrBy(ctx, key, "tokens", tokens)
	if err != nil {
		return 0, 0, err
	}
	if totalTokens == tokens {
		l.anchorWindow(ctx, key, win)
	}
	costMicro, err := l.kv.HIncrBy(ctx, key, "cost_micro", int64(costUSD*1e6))
	if err != nil {
		return totalTokens, 0, err
	}
	return totalTokens, float64(costMicro) / 1e6, nil
}

// Window reads the current window's accumulated counters for apiKeyID; a
// lapsed or never-used window reads as zero.
func (l *RateLimiter) Window(ctx context.Context, apiKeyID string) (WindowUsage, error) {
	fields, err := l.kv.HGetAll(ctx, l.key(apiKeyID))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return WindowUsage{}, nil
		}
		return WindowUsage{}, err
	}
	var w WindowUsage
	if v, ok := fields["window_start"]; ok {
		if secs, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			w.WindowStart = time.Unix(secs, 0)
		}
	}
	if v, ok := fields["requests"]; ok {
		w.Requests, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["tokens"]; ok {
		w.Tokens, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := fields["cost_micro"]; ok {
		micro, _ := strconv.ParseInt(v, 10, 64)
		w.CostUSD = float64(micro) / 1e6
	}
	return w, nil
}

// ConcurrencyGate tracks in-flight requests per key against
// ApiKey.ConcurrencyLimit using a KV counter rather than an in-process
// semaphore, so the limit holds across gateway replicas sharing one Redis.
type ConcurrencyGate struct {
	kv kvstore.Store
}

// NewConcurrencyGate builds a ConcurrencyGate backed by kv.
func NewConcurrencyGate(kv kvstore.Store) *ConcurrencyGate {
	return &ConcurrencyGate{kv: kv}
}

func (g *ConcurrencyGate) key(apiKeyID string) string {
	return fmt.Sprintf("apikey_inflight:%s", apiKeyID)
}

// Acquire increments the in-flight counter and returns false without
// acquiring if k.ConcurrencyLimit would be exceeded. Callers must call the
// returned release func exactly once when the request finishes, successful
// acquire or not (releasing a non-acquired slot is a harmless no-op decrement
// guard below).
func (g *ConcurrencyGate) Acquire(ctx context.Context, k *ApiKey) (acquired bool, release func(), err error) {
	if k.ConcurrencyLimit <= 0 {
		return true, func() {}, nil
	}
	key := g.key(k.ID)
	count, err := g.kv.HIncrBy(ctx, key, "count", 1)
	if err != nil {
		return false, func() {}, err
	}
	_ = g.kv.Expire(ctx, key, time.Hour)
	if count > int64(k.ConcurrencyLimit) {
		_, _ = g.kv.HIncrBy(ctx, key, "count", -1)
		return false, func() {}, nil
	}
	released := false
	release = func() {
		if released {
			return
		}
		released = true
		_, _ = g.kv.HIncrBy(context.Background(), key, "count", -1)
	}
	return true, release, nil
}
