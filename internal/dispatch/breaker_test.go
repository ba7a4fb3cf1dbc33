package dispatch

import (
	"testing"
	"time"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{TripAfter: 3, Cooldown: 50 * time.Millisecond, HalfOpenProbes: 1}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreakerSet(testBreakerConfig()).For("acct-1")
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("breaker open before threshold, after %d failures", i)
		}
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatalf("breaker still allowing after %d consecutive failures", 3)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreakerSet(testBreakerConfig()).For("acct-1")
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatalf("breaker tripped although failures were not consecutive")
	}
}

func TestBreakerHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := NewBreakerSet(testBreakerConfig()).For("acct-1")
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	if !b.Allow() {
		t.Fatalf("expected a probe to be allowed after cooldown")
	}
	if b.Allow() {
		t.Fatalf("expected only one probe while half-open")
	}
	b.RecordSuccess()
	if !b.Allow() || !b.Allow() {
		t.Fatalf("expected breaker closed after probe success")
	}
}

func TestBreakerHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := NewBreakerSet(testBreakerConfig()).For("acct-1")
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	if !b.Allow() {
		t.Fatalf("expected a probe to be allowed after cooldown")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("expected breaker reopened after probe failure")
	}
}

func TestBreakerSetIsolatesAccounts(t *testing.T) {
	set := NewBreakerSet(testBreakerConfig())
	bad := set.For("acct-bad")
	for i := 0; i < 3; i++ {
		bad.RecordFailure()
	}
	if bad.Allow() {
		t.Fatalf("expected acct-bad breaker open")
	}
	if !set.For("acct-good").Allow() {
		t.Fatalf("expected acct-good breaker unaffected")
	}
}
