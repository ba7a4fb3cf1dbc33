// Package costrank implements the cost-rank leaderboard service: four
// sorted-set leaderboards (today, 7 days, 30 days, all-time)
// ranking apiKeys by accumulated spend, rebuilt on a timer per leaderboard
// via an atomic build-into-temp-key-then-Rename swap so readers never see a
// half-populated ranking.
package costrank

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/axiomrelay/gateway/internal/apikey"
	"github.com/axiomrelay/gateway/internal/config"
	"github.com/axiomrelay/gateway/internal/kvstore"
	"github.com/axiomrelay/gateway/internal/usage"
)

// Window names one of the four standing leaderboards.
type Window string

const (
	WindowToday     Window = "today"
	WindowSevenDay  Window = "7days"
	WindowThirtyDay Window = "30days"
	WindowAll       Window = "all"
)

func (w Window) ledgerWindow(now time.Time, loc *time.Location) string {
	switch w {
	case WindowToday:
		return "daily:" + now.In(loc).Format("2006-01-02")
	default:
		return "total"
	}
}

func leaderboardKey(w Window) string { return "costrank:" + string(w) }
func leaderboardTempKey(w Window) string { return "costrank:" + string(w) + ":building" }
func metaKey(w Window) string { return "costrank:" + string(w) + ":meta" }

// Entry is one ranked apiKey.
type Entry struct {
	ApiKeyID string
	CostUSD  float64
	Rank     int64
}

// Service owns the four leaderboards and their refresh timers.
type Service struct {
	kv      kvstore.Store
	ledger  *usage.Ledger
	keys    *apikey.Repository
	lockTTL time.Duration
	batch   int
	loc     *time.Location

	stop chan struct{}
}

// New builds a Service from cfg. keys is used to enumerate the universe of
// apiKeys to score; for WindowSevenDay/WindowThirtyDay, "total" ledger spend
// is used as a stand-in since the ledger only tracks daily/monthly/total
// buckets, not an arbitrary trailing-N-day sum (documented as an accepted
// approximation — a precise trailing window would require per-day ledger
// scans across the full range on every refresh).
func New(cfg config.CostRankConfig, kv kvstore.Store, ledger *usage.Ledger, keys *apikey.Repository, tz string) *Service {
	lockTTL := time.Duration(cfg.LockTTLSeconds) * time.Second
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return &Service{kv: kv, ledger: ledger, keys: keys, lockTTL: lockTTL, batch: batch, loc: loc, stop: make(chan struct{})}
}

// Start launches the per-window refresh timers using cfg's configured
// intervals; call Stop to end them on shutdown.
func (s *Service) Start(ctx context.Context, cfg config.CostRankConfig) {
	if !cfg.Enabled {
		return
	}
	s.runTimer(ctx, WindowToday, time.Duration(orDefault(cfg.TodayIntervalSeconds, 600))*time.Second)
	s.runTimer(ctx, WindowSevenDay, time.Duration(orDefault(cfg.SevenDayIntervalSeconds, 1800))*time.Second)
	s.runTimer(ctx, WindowThirtyDay, time.Duration(orDefault(cfg.ThirtyDayIntervalSeconds, 3600))*time.Second)
	s.runTimer(ctx, WindowAll, time.Duration(orDefault(cfg.AllIntervalSeconds, 7200))*time.Second)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Service) runTimer(ctx context.Context, w Window, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		s.Refresh(ctx, w)
		for {
			select {
			case <-ticker.C:
				s.Refresh(ctx, w)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends all refresh timers.
func (s *Service) Stop() { close(s.stop) }

// Refresh rebuilds one leaderboard: acquires a SET NX EX lock so concurrent
// gateway instances don't race to rebuild the same window, scores every
// apiKey in batches, ZAdds into a temp key, then atomically Renames the temp
// key over the live one.
func (s *Service) Refresh(ctx context.Context, w Window) {
	lockKey := "costrank:" + string(w) + ":lock"
	acquired, err := s.kv.SetNX(ctx, lockKey, "1", s.lockTTL)
	if err != nil {
		log.WithError(err).WithField("window", w).Warn("costrank: lock check failed")
		return
	}
	if !acquired {
		return
	}
	defer s.kv.Del(ctx, lockKey)

	start := time.Now()
	keys, err := s.keys.ListAll(ctx)
	if err != nil {
		log.WithError(err).WithField("window", w).Warn("costrank: failed to list apikeys")
		return
	}

	tempKey := leaderboardTempKey(w)
	s.kv.Del(ctx, tempKey)

	ledgerWindow := w.ledgerWindow(time.Now(), s.loc)
	count := 0
	for i := 0; i < len(keys); i += s.batch {
		end := i + s.batch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]
		members := make([]kvstore.ZMember, 0, len(batch))
		for _, k := range batch {
			totals, err := s.ledger.ApiKeyTotals(ctx, k.ID, ledgerWindow)
			if err != nil {
				continue
			}
			if totals.CostUSD <= 0 {
				continue
			}
			members = append(members, kvstore.ZMember{Member: k.ID, Score: totals.CostUSD})
		}
		if len(members) > 0 {
			if err := s.kv.ZAdd(ctx, tempKey, members...); err != nil {
				log.WithError(err).WithField("window", w).Warn("costrank: zadd batch failed")
			}
			count += len(members)
		}
	}

	if err := s.kv.Rename(ctx, tempKey, leaderboardKey(w)); err != nil {
		log.WithError(err).WithField("window", w).Warn("costrank: rename swap failed")
		return
	}

	s.kv.HSet(ctx, metaKey(w), map[string]string{
		"lastUpdate":     time.Now().UTC().Format(time.RFC3339),
		"keyCount":       fmt.Sprintf("%d", count),
		"status":         "ok",
		"updateDuration": time.Since(start).String(),
	})
}

// Top returns the top n entries of leaderboard w.
func (s *Service) Top(ctx context.Context, w Window, n int64) ([]Entry, error) {
	members, err := s.kv.ZRevRangeWithScores(ctx, leaderboardKey(w), 0, n-1)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(members))
	for i, m := range members {
		out[i] = Entry{ApiKeyID: m.Member, CostUSD: m.Score, Rank: int64(i) + 1}
	}
	return out, nil
}

// OnApiKeyCreated seeds a zero-score placeholder entry for a new apiKey so
// it appears in leaderboard membership (at rank, with score 0) before its
// first refresh cycle scores real spend.
func (s *Service) OnApiKeyCreated(ctx context.Context, apiKeyID string) {
	for _, w := range []Window{WindowToday, WindowSevenDay, WindowThirtyDay, WindowAll} {
		_ = s.kv.ZAdd(ctx, leaderboardKey(w), kvstore.ZMember{Member: apiKeyID, Score: 0})
	}
}

// OnApiKeyDeleted removes an apiKey from every leaderboard immediately,
// rather than waiting for the next refresh to drop it.
func (s *Service) OnApiKeyDeleted(ctx context.Context, apiKeyID string) {
	for _, w := range []Window{WindowToday, WindowSevenDay, WindowThirtyDay, WindowAll} {
		_ = s.kv.ZRem(ctx, leaderboardKey(w), apiKeyID)
	}
}

// CustomRange computes an on-demand leaderboard for an arbitrary date range
// by summing each apiKey's daily ledger buckets across the range, processed
// in batches of s.batch keys at a time. This bypasses the standing
// leaderboards entirely since an arbitrary range can't be served from a
// precomputed sorted set.
func (s *Service) CustomRange(ctx context.Context, from, to time.Time) ([]Entry, error) {
	keys, err := s.keys.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(keys))
	for i := 0; i < len(keys); i += s.batch {
		end := i + s.batch
		if end > len(keys) {
			end = len(keys)
		}
		for _, k := range keys[i:end] {
			var sum float64
			for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
				window := "daily:" + d.In(s.loc).Format("2006-01-02")
				totals, err := s.ledger.ApiKeyTotals(ctx, k.ID, window)
				if err != nil {
					continue
				}
				sum += totals.CostUSD
			}
			if sum > 0 {
				scores[k.ID] = sum
			}
		}
	}
	out := make([]Entry, 0, len(scores))
	for id, cost := range scores {
		out = append(out, Entry{ApiKeyID: id, CostUSD: cost})
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].CostUSD > out[i].CostUSD {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	for i := range out {
		out[i].Rank = int64(i) + 1
	}
	return out, nil
}
