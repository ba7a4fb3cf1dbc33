package accounts

import (
	"context"
	"time"
)

// Notifier is the narrow webhook surface the state machine depends on,
// satisfied by internal/webhook.Notifier. Declared here (not imported) to
// avoid a cycle: webhook payloads name accounts, not the reverse.
type Notifier interface {
	NotifyAccountStatus(ctx context.Context, accountID, accountName string, platform Platform, status Status, errorCode, reason string)
}

// StateMachine wraps a Repository with the webhook-emission rules: entry
// into unauthorized, manual pause, and recovery to active from a
// non-active prior state (lazy rate-limit recovery included) all notify;
// ordinary rate-limiting does not (an expected, high-frequency event).
type StateMachine struct {
	repo     *Repository
	notifier Notifier
}

// NewStateMachine builds a StateMachine over repo. notifier may be nil, in
// which case transitions are silent (useful in tests).
func NewStateMachine(repo *Repository, notifier Notifier) *StateMachine {
	return &StateMachine{repo: repo, notifier: notifier}
}

// ApplyRateLimit transitions active -> rateLimited on an upstream 429 or a
// stream error advertising usage_limit_reached.
func (sm *StateMachine) ApplyRateLimit(ctx context.Context, id string, duration time.Duration) error {
	return sm.repo.SetRateLimited(ctx, id, true, duration)
}

// RecoverIfDue performs the lazy rate-limit sweep: if the account is
// rateLimited and its reset time has passed, it is restored to
// active. Returns whether a recovery happened.
func (sm *StateMachine) RecoverIfDue(ctx context.Context, a *Account) (bool, error) {
	if a.Status != StatusRateLimited {
		return false, nil
	}
	if a.RateLimitResetAt == nil || time.Now().Before(*a.RateLimitResetAt) {
		return false, nil
	}
	if err := sm.repo.SetRateLimited(ctx, a.ID, false, 0); err != nil {
		return false, err
	}
	sm.notify(ctx, a, StatusActive, "", "rate limit window elapsed")
	return true, nil
}

// MarkUnauthorized transitions active -> unauthorized on a 401/402 and
// always notifies.
func (sm *StateMachine) MarkUnauthorized(ctx context.Context, a *Account, reason string) error {
	if err := sm.repo.MarkUnauthorized(ctx, a.ID, reason); err != nil {
		return err
	}
	sm.notify(ctx, a, StatusUnauthorized, "unauthorized", reason)
	return nil
}

// Pause implements the admin "toggleSchedulable OFF" transition and
// notifies.
func (sm *StateMachine) Pause(ctx context.Context, a *Account) error {
	if err := sm.repo.ToggleSchedulable(ctx, a.ID, false); err != nil {
		return err
	}
	sm.notify(ctx, a, StatusPaused, "paused", "admin disabled scheduling")
	return nil
}

// Resume implements "toggleSchedulable ON", legal only from paused, and
// notifies because it recovers to active from a non-active prior state.
func (sm *StateMachine) Resume(ctx context.Context, a *Account) error {
	if err := sm.repo.ToggleSchedulable(ctx, a.ID, true); err != nil {
		return err
	}
	sm.notify(ctx, a, StatusActive, "", "admin re-enabled scheduling")
	return nil
}

// Reset is the admin resetStatus transition from any state to active; it
// notifies only when the prior state was not already active.
func (sm *StateMachine) Reset(ctx context.Context, a *Account) error {
	wasActive := a.Status == StatusActive
	if err := sm.repo.ResetStatus(ctx, a.ID); err != nil {
		return err
	}
	if !wasActive {
		sm.notify(ctx, a, StatusActive, "", "admin reset")
	}
	return nil
}

func (sm *StateMachine) notify(ctx context.Context, a *Account, status Status, errorCode, reason string) {
	if sm.notifier == nil {
		return
	}
	sm.notifier.NotifyAccountStatus(ctx, a.ID, a.Name, a.Platform, status, errorCode, reason)
}
