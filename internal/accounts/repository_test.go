package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

func newTestRepo() (*Repository, kvstore.Store) {
	kv := kvstore.NewMemoryStore()
	return NewRepository(PlatformGemini, kv), kv
}

func TestRepositoryCreateGetRoundTrip(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	a := &Account{ID: "acct-1", Kind: KindOAuth, AccountType: AccountTypeShared, Priority: 50, IsActive: true, Status: StatusActive}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Platform != PlatformGemini || got.Priority != 50 {
		t.Fatalf("got = %+v, want platform=gemini priority=50", got)
	}
}

func TestRepositorySetRateLimitedThenRecover(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()
	a := &Account{ID: "acct-2", AccountType: AccountTypeShared, Status: StatusActive, Schedulable: true}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.SetRateLimited(ctx, "acct-2", true, time.Minute); err != nil {
		t.Fatalf("SetRateLimited(true): %v", err)
	}
	got, _ := repo.Get(ctx, "acct-2")
	if got.Status != StatusRateLimited || got.Schedulable {
		t.Fatalf("after limiting: status=%s schedulable=%v", got.Status, got.Schedulable)
	}
	if got.RateLimitResetAt == nil {
		t.Fatal("rateLimitResetAt not set")
	}

	if err := repo.SetRateLimited(ctx, "acct-2", false, 0); err != nil {
		t.Fatalf("SetRateLimited(false): %v", err)
	}
	got, _ = repo.Get(ctx, "acct-2")
	if got.Status != StatusActive || !got.Schedulable {
		t.Fatalf("after clearing: status=%s schedulable=%v", got.Status, got.Schedulable)
	}
}

func TestSetRateLimitedFalseIsIdempotentOnActive(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()
	a := &Account{ID: "acct-3", AccountType: AccountTypeShared, Status: StatusActive, Schedulable: true}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	before, _ := repo.Get(ctx, "acct-3")
	if err := repo.SetRateLimited(ctx, "acct-3", false, 0); err != nil {
		t.Fatalf("SetRateLimited: %v", err)
	}
	after, _ := repo.Get(ctx, "acct-3")

	if before.Status != after.Status || before.Schedulable != after.Schedulable {
		t.Fatalf("idempotence violated: before=%+v after=%+v", before, after)
	}
}

func TestMarkUnauthorizedIncrementsCount(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()
	a := &Account{ID: "acct-4", AccountType: AccountTypeShared, Status: StatusActive, Schedulable: true}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.MarkUnauthorized(ctx, "acct-4", "invalid api key"); err != nil {
		t.Fatalf("MarkUnauthorized: %v", err)
	}
	got, _ := repo.Get(ctx, "acct-4")
	if got.Status != StatusUnauthorized || got.Schedulable {
		t.Fatalf("got status=%s schedulable=%v", got.Status, got.Schedulable)
	}
	if got.UnauthorizedCount != 1 || got.ErrorMessage != "invalid api key" {
		t.Fatalf("got = %+v", got)
	}
}

func TestListAllUnionsSharedSetAndScan(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()

	if err := repo.Create(ctx, &Account{ID: "shared-1", AccountType: AccountTypeShared, IsActive: true}); err != nil {
		t.Fatalf("Create shared-1: %v", err)
	}
	if err := repo.Create(ctx, &Account{ID: "dedicated-1", AccountType: AccountTypeDedicated, IsActive: true}); err != nil {
		t.Fatalf("Create dedicated-1: %v", err)
	}

	all, err := repo.ListAll(ctx, true)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListAll returned %d accounts, want 2", len(all))
	}
}

func TestToggleSchedulableRequiresPausedForResume(t *testing.T) {
	repo, _ := newTestRepo()
	ctx := context.Background()
	a := &Account{ID: "acct-5", AccountType: AccountTypeShared, Status: StatusActive, Schedulable: true}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.ToggleSchedulable(ctx, "acct-5", true); err == nil {
		t.Fatal("expected error enabling schedulable from active status")
	}
	if err := repo.ToggleSchedulable(ctx, "acct-5", false); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := repo.ToggleSchedulable(ctx, "acct-5", true); err != nil {
		t.Fatalf("resume from paused: %v", err)
	}
}
