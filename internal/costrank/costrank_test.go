package costrank

import (
	"context"
	"testing"

	"github.com/axiomrelay/gateway/internal/apikey"
	"github.com/axiomrelay/gateway/internal/config"
	"github.com/axiomrelay/gateway/internal/kvstore"
	"github.com/axiomrelay/gateway/internal/usage"
)

func newTestService(t *testing.T) (*Service, kvstore.Store, *apikey.Repository, *usage.Ledger) {
	t.Helper()
	kv := kvstore.NewMemoryStore()
	keys := apikey.NewRepository(kv)
	prices := usage.NewPriceTable(nil)
	prices.DefaultPrice = usage.Price{Input: 1, Output: 1}
	ledger := usage.NewLedger(kv, prices, "UTC")
	svc := New(config.CostRankConfig{LockTTLSeconds: 5, BatchSize: 2}, kv, ledger, keys, "UTC")
	return svc, kv, keys, ledger
}

func TestRefreshPopulatesLeaderboardFromLedgerTotals(t *testing.T) {
	svc, _, keys, ledger := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"key-a", "key-b", "key-c"} {
		if err := keys.Create(ctx, &apikey.ApiKey{ID: id}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := ledger.Record(ctx, "key-a", "acct-1", usage.Usage{Model: "m", Input: 1000}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := ledger.Record(ctx, "key-b", "acct-1", usage.Usage{Model: "m", Input: 2000}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// key-c has no recorded usage and should be omitted (cost <= 0).

	svc.Refresh(ctx, WindowAll)

	top, err := svc.Top(ctx, WindowAll, 10)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("Top returned %d entries, want 2: %+v", len(top), top)
	}
	if top[0].ApiKeyID != "key-b" || top[0].Rank != 1 {
		t.Fatalf("expected key-b ranked first, got %+v", top[0])
	}
	if top[1].ApiKeyID != "key-a" || top[1].Rank != 2 {
		t.Fatalf("expected key-a ranked second, got %+v", top[1])
	}
}

func TestRefreshNeverLeavesLeaderboardEmptyOnSecondRun(t *testing.T) {
	svc, _, keys, ledger := newTestService(t)
	ctx := context.Background()

	if err := keys.Create(ctx, &apikey.ApiKey{ID: "key-a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ledger.Record(ctx, "key-a", "acct-1", usage.Usage{Model: "m", Input: 1000}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	svc.Refresh(ctx, WindowToday)
	first, err := svc.Top(ctx, WindowToday, 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("first refresh: top=%+v err=%v", first, err)
	}

	svc.Refresh(ctx, WindowToday)
	second, err := svc.Top(ctx, WindowToday, 10)
	if err != nil || len(second) != 1 {
		t.Fatalf("second refresh should still have a fully populated leaderboard: top=%+v err=%v", second, err)
	}
}

func TestOnApiKeyDeletedRemovesFromAllWindows(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	svc.OnApiKeyCreated(ctx, "key-x")
	for _, w := range []Window{WindowToday, WindowSevenDay, WindowThirtyDay, WindowAll} {
		top, err := svc.Top(ctx, w, 10)
		if err != nil {
			t.Fatalf("Top(%s): %v", w, err)
		}
		found := false
		for _, e := range top {
			if e.ApiKeyID == "key-x" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected key-x present in window %s after OnApiKeyCreated", w)
		}
	}

	svc.OnApiKeyDeleted(ctx, "key-x")
	for _, w := range []Window{WindowToday, WindowSevenDay, WindowThirtyDay, WindowAll} {
		top, err := svc.Top(ctx, w, 10)
		if err != nil {
			t.Fatalf("Top(%s): %v", w, err)
		}
		for _, e := range top {
			if e.ApiKeyID == "key-x" {
				t.Fatalf("key-x still present in window %s after OnApiKeyDeleted", w)
			}
		}
	}
}
