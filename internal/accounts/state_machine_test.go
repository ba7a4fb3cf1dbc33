package accounts

import (
	"context"
	"testing"
	"time"
)

type fakeNotifier struct {
	calls []fakeNotifyCall
}

type fakeNotifyCall struct {
	accountID, errorCode, reason string
	status                       Status
}

func (f *fakeNotifier) NotifyAccountStatus(ctx context.Context, accountID, accountName string, platform Platform, status Status, errorCode, reason string) {
	f.calls = append(f.calls, fakeNotifyCall{accountID: accountID, status: status, errorCode: errorCode, reason: reason})
}

func TestMarkUnauthorizedAlwaysNotifies(t *testing.T) {
	repo, _ := newTestRepo()
	notifier := &fakeNotifier{}
	sm := NewStateMachine(repo, notifier)
	ctx := context.Background()

	a := &Account{ID: "acct-1", AccountType: AccountTypeShared, Status: StatusActive, Schedulable: true}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sm.MarkUnauthorized(ctx, a, "bad token"); err != nil {
		t.Fatalf("MarkUnauthorized: %v", err)
	}
	if len(notifier.calls) != 1 || notifier.calls[0].status != StatusUnauthorized {
		t.Fatalf("expected one unauthorized notification, got %+v", notifier.calls)
	}
}

func TestRecoverIfDueTransitionsPastResetTime(t *testing.T) {
	repo, _ := newTestRepo()
	notifier := &fakeNotifier{}
	sm := NewStateMachine(repo, notifier)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	a := &Account{ID: "acct-2", AccountType: AccountTypeShared, Status: StatusRateLimited, RateLimitResetAt: &past}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recovered, err := sm.RecoverIfDue(ctx, a)
	if err != nil {
		t.Fatalf("RecoverIfDue: %v", err)
	}
	if !recovered {
		t.Fatal("expected recovery since resetAt is in the past")
	}
	got, _ := repo.Get(ctx, "acct-2")
	if got.Status != StatusActive || !got.Schedulable {
		t.Fatalf("got = %+v, want active+schedulable", got)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected a recovery notification, got %+v", notifier.calls)
	}
}

func TestRecoverIfDueNoopBeforeResetTime(t *testing.T) {
	repo, _ := newTestRepo()
	sm := NewStateMachine(repo, nil)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	a := &Account{ID: "acct-3", AccountType: AccountTypeShared, Status: StatusRateLimited, RateLimitResetAt: &future}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recovered, err := sm.RecoverIfDue(ctx, a)
	if err != nil {
		t.Fatalf("RecoverIfDue: %v", err)
	}
	if recovered {
		t.Fatal("expected no recovery since resetAt is in the future")
	}
}

func TestRecoverIfDueIgnoresNonRateLimitedAccount(t *testing.T) {
	repo, _ := newTestRepo()
	sm := NewStateMachine(repo, nil)
	ctx := context.Background()

	a := &Account{ID: "acct-4", AccountType: AccountTypeShared, Status: StatusActive}
	recovered, err := sm.RecoverIfDue(ctx, a)
	if err != nil {
		t.Fatalf("RecoverIfDue: %v", err)
	}
	if recovered {
		t.Fatal("expected no-op for an already-active account")
	}
}

func TestPauseAndResumeNotify(t *testing.T) {
	repo, _ := newTestRepo()
	notifier := &fakeNotifier{}
	sm := NewStateMachine(repo, notifier)
	ctx := context.Background()

	a := &Account{ID: "acct-5", AccountType: AccountTypeShared, Status: StatusActive, Schedulable: true}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sm.Pause(ctx, a); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, _ := repo.Get(ctx, "acct-5")
	if got.Schedulable {
		t.Fatal("expected schedulable=false after Pause")
	}

	if err := sm.Resume(ctx, a); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ = repo.Get(ctx, "acct-5")
	if !got.Schedulable {
		t.Fatal("expected schedulable=true after Resume")
	}
	if len(notifier.calls) != 2 {
		t.Fatalf("expected pause+resume notifications, got %+v", notifier.calls)
	}
}

func TestResetNotifiesOnlyFromNonActive(t *testing.T) {
	repo, _ := newTestRepo()
	notifier := &fakeNotifier{}
	sm := NewStateMachine(repo, notifier)
	ctx := context.Background()

	a := &Account{ID: "acct-6", AccountType: AccountTypeShared, Status: StatusUnauthorized, ErrorMessage: "bad"}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := sm.Reset(ctx, a); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification resetting from unauthorized, got %+v", notifier.calls)
	}

	notifier.calls = nil
	activeAccount := &Account{ID: "acct-6", Status: StatusActive}
	if err := sm.Reset(ctx, activeAccount); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatalf("expected no notification resetting from already-active, got %+v", notifier.calls)
	}
}
