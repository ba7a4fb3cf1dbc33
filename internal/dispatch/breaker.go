package dispatch

import (
	"sync"
	"time"
)

// BreakerConfig tunes the per-account circuit breakers. A breaker trips
// after TripAfter consecutive transport-level failures or 5xx responses,
// stays open for Cooldown, then lets HalfOpenProbes requests through as
// probes; one probe success closes it, one probe failure reopens it.
type BreakerConfig struct {
	TripAfter      int
	Cooldown       time.Duration
	HalfOpenProbes int
}

// DefaultBreakerConfig matches the gateway's shipped defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{TripAfter: 5, Cooldown: 30 * time.Second, HalfOpenProbes: 1}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// accountBreaker guards one upstream account. 4xx responses never count as
// failures here (the dispatcher records them as successes): rate-limit and
// auth failures transition the account's state machine instead, and are
// not the outage signal a breaker exists for.
type accountBreaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state    breakerState
	failures int
	openedAt time.Time
	probes   int
}

// Allow reports whether a request may be placed on this account right now,
// and consumes a probe slot when the breaker is half-open.
func (b *accountBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probes = 0
		fallthrough
	case breakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return false
		}
		b.probes++
		return true
	default:
		return true
	}
}

func (b *accountBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == breakerHalfOpen {
		b.state = breakerClosed
		b.probes = 0
	}
}

func (b *accountBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.cfg.TripAfter {
		b.state = breakerOpen
		b.openedAt = time.Now()
		b.probes = 0
	}
}

// BreakerSet holds one breaker per account ID, created on first use.
type BreakerSet struct {
	mu  sync.Mutex
	cfg BreakerConfig
	byAccount map[string]*accountBreaker
}

func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, byAccount: make(map[string]*accountBreaker)}
}

// For returns the breaker guarding accountID.
func (s *BreakerSet) For(accountID string) *accountBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byAccount[accountID]
	if !ok {
		b = &accountBreaker{cfg: s.cfg}
		s.byAccount[accountID] = b
	}
	return b
}
