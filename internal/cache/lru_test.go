package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUGetSetRoundTrip(t *testing.T) {
	c := NewLRU(4, time.Minute)
	c.Set("a", []byte("alpha"))
	got, ok := c.Get("a")
	if !ok || string(got) != "alpha" {
		t.Fatalf("Get(a) = %q, %v; want alpha, true", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("Get(missing) reported a hit")
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(2, time.Minute)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Get("a") // a is now most recent
	c.Set("c", []byte("3"))

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a retained")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected c retained")
	}
}

func TestLRUExpiresEntries(t *testing.T) {
	c := NewLRU(4, 10*time.Millisecond)
	c.Set("a", []byte("alpha"))
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry expired after TTL")
	}
}

func TestLRUStatsCountHitsAndMisses(t *testing.T) {
	c := NewLRU(4, time.Minute)
	c.Set("a", []byte("alpha"))
	c.Get("a")
	c.Get("nope")
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Fatalf("Stats = %+v; want 1 hit, 1 miss, 1 entry", s)
	}
}

func TestLRUSetRefreshesExistingKey(t *testing.T) {
	c := NewLRU(2, time.Minute)
	c.Set("a", []byte("old"))
	c.Set("a", []byte("new"))
	if c.Len() != 1 {
		t.Fatalf("Len = %d after refreshing one key, want 1", c.Len())
	}
	got, _ := c.Get("a")
	if string(got) != "new" {
		t.Fatalf("Get(a) = %q, want new", got)
	}
}

func TestLRUCapacityNeverExceeded(t *testing.T) {
	c := NewLRU(8, time.Minute)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}
	if c.Len() > 8 {
		t.Fatalf("Len = %d exceeds capacity 8", c.Len())
	}
}
