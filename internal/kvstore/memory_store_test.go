package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreStringRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k1", "v1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "v1" {
		t.Fatalf("Get = %q, want v1", got)
	}

	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "holder1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v,%v want true,nil", ok, err)
	}
	ok, err = s.SetNX(ctx, "lock", "holder2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v,%v want false,nil", ok, err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "ttl-key", "v", time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Get(ctx, "ttl-key"); err != ErrNotFound {
		t.Fatalf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSortedSetRankingAndRename(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.ZAdd(ctx, "ranks", ZMember{Member: "acct-a", Score: 10}, ZMember{Member: "acct-b", Score: 30}, ZMember{Member: "acct-c", Score: 20}); err != nil {
		t.Fatalf("ZAdd: %v", err)
	}

	top, err := s.ZRevRangeWithScores(ctx, "ranks", 0, 2)
	if err != nil {
		t.Fatalf("ZRevRangeWithScores: %v", err)
	}
	if len(top) != 2 || top[0].Member != "acct-b" || top[1].Member != "acct-c" {
		t.Fatalf("top = %+v, want [acct-b acct-c]", top)
	}

	if err := s.Rename(ctx, "ranks", "ranks:live"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	card, err := s.ZCard(ctx, "ranks:live")
	if err != nil || card != 3 {
		t.Fatalf("ZCard after rename = %d,%v want 3,nil", card, err)
	}
	if exists, _ := s.Exists(ctx, "ranks"); exists {
		t.Fatalf("old key should not exist after rename")
	}
}

func TestMemoryStoreHashIncrement(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.HIncrBy(ctx, "usage:key1", "requestCount", 1)
	if err != nil || n != 1 {
		t.Fatalf("HIncrBy = %d,%v want 1,nil", n, err)
	}
	n, err = s.HIncrBy(ctx, "usage:key1", "requestCount", 4)
	if err != nil || n != 5 {
		t.Fatalf("HIncrBy = %d,%v want 5,nil", n, err)
	}
}

func TestMemoryStoreScan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, k := range []string{"account:1", "account:2", "apikey:1"} {
		if err := s.Set(ctx, k, "x", 0); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	keys, next, err := s.Scan(ctx, 0, "account:*", 10)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Scan returned %d keys, want 2", len(keys))
	}
	if next != 0 {
		t.Fatalf("Scan next cursor = %d, want 0 (exhausted)", next)
	}
}
