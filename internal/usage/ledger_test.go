package usage

import (
	"context"
	"testing"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

func TestRecordIncrementsTotalsByExactSum(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	prices := NewPriceTable(map[string]Price{
		"gpt-5": {Input: 1, Output: 2, CacheCreate: 0.5, CacheRead: 0.1},
	})
	ledger := NewLedger(kv, prices, "UTC")

	u := Usage{Model: "gpt-5", Input: 100, Output: 50, CacheCreate: 10, CacheRead: 5}
	if err := ledger.Record(context.Background(), "key1", "acct1", u); err != nil {
		t.Fatalf("Record: %v", err)
	}

	totals, err := ledger.ApiKeyTotals(context.Background(), "key1", "total")
	if err != nil {
		t.Fatalf("ApiKeyTotals: %v", err)
	}
	wantTokens := u.Input + u.Output + u.CacheCreate + u.CacheRead
	if totals.Tokens != wantTokens {
		t.Fatalf("Tokens = %d, want %d", totals.Tokens, wantTokens)
	}
	if totals.Requests != 1 {
		t.Fatalf("Requests = %d, want 1", totals.Requests)
	}
}

func TestRecordAccumulatesAcrossCalls(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	prices := NewPriceTable(nil)
	prices.DefaultPrice = Price{Input: 1, Output: 1}
	ledger := NewLedger(kv, prices, "UTC")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ledger.Record(ctx, "key1", "acct1", Usage{Model: "unknown-model", Input: 10, Output: 10}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	totals, err := ledger.ApiKeyTotals(ctx, "key1", "total")
	if err != nil {
		t.Fatalf("ApiKeyTotals: %v", err)
	}
	if totals.Tokens != 60 {
		t.Fatalf("Tokens = %d, want 60", totals.Tokens)
	}
	if totals.Requests != 3 {
		t.Fatalf("Requests = %d, want 3", totals.Requests)
	}
}

func TestApiKeyTotalsUnknownKeyIsZeroNotError(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	ledger := NewLedger(kv, NewPriceTable(nil), "UTC")

	totals, err := ledger.ApiKeyTotals(context.Background(), "nonexistent", "total")
	if err != nil {
		t.Fatalf("ApiKeyTotals: %v", err)
	}
	if totals.Tokens != 0 || totals.Requests != 0 || totals.CostUSD != 0 {
		t.Fatalf("expected zero totals, got %+v", totals)
	}
}

func TestCostUSDFallsBackToDefaultPriceForUnknownModel(t *testing.T) {
	prices := NewPriceTable(map[string]Price{"known": {Input: 1}})
	prices.DefaultPrice = Price{Input: 2, Output: 2}

	cost := prices.CostUSD(Usage{Model: "unknown", Input: 1000, Output: 1000})
	if cost != 4 {
		t.Fatalf("CostUSD = %v, want 4", cost)
	}
}
