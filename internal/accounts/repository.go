package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

// Repository implements the per-family account CRUD and status-mutation
// surface. One Repository instance is scoped to a single Platform;
// the gateway holds one per configured family.
type Repository struct {
	platform Platform
	kv       kvstore.Store

	defaultRateLimitDuration time.Duration
}

// NewRepository builds a Repository for platform p backed by kv.
func NewRepository(p Platform, kv kvstore.Store) *Repository {
	return &Repository{
		platform:                 p,
		kv:                       kv,
		defaultRateLimitDuration: 60 * time.Minute,
	}
}

func (r *Repository) recordKey(id string) string {
	return fmt.Sprintf("%s_account:%s", r.platform, id)
}

func (r *Repository) sharedSetKey() string {
	return fmt.Sprintf("shared_%s_accounts", r.platform)
}

func (r *Repository) scanPattern() string {
	return fmt.Sprintf("%s_account:*", r.platform)
}

// Create persists a new account record and, if shared, adds it to the
// family's shared-accounts set.
func (r *Repository) Create(ctx context.Context, a *Account) error {
	a.Platform = r.platform
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = StatusCreated
	}
	if a.RateLimitDuration == 0 {
		a.RateLimitDuration = int(r.defaultRateLimitDuration / time.Minute)
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("accounts: marshal: %w", err)
	}
	if err := r.kv.Set(ctx, r.recordKey(a.ID), string(body), 0); err != nil {
		return err
	}
	if a.AccountType == AccountTypeShared {
		return r.kv.SAdd(ctx, r.sharedSetKey(), a.ID)
	}
	return nil
}

// Get loads one account by id. Secrets are returned encrypted; callers
// obtain an AccountRef via RefFor and decrypt lazily through a vault.
func (r *Repository) Get(ctx context.Context, id string) (*Account, error) {
	body, err := r.kv.Get(ctx, r.recordKey(id))
	if err != nil {
		return nil, err
	}
	var a Account
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return nil, fmt.Errorf("accounts: unmarshal %s: %w", id, err)
	}
	return &a, nil
}

// Patch applies a shallow set of JSON field updates without requiring the
// caller to read-modify-write the whole record, the same gjson/sjson
// JSON-surgery idiom used throughout the dialect adapters, applied
// here to account storage instead of request bodies. Secret fields
// (suffixed "Enc" in Account) must already be encrypted by the caller.
func (r *Repository) Patch(ctx context.Context, id string, fields map[string]any) error {
	key := r.recordKey(id)
	body, err := r.kv.Get(ctx, key)
	if err != nil {
		return err
	}

	raw := []byte(body)
	for path, value := range fields {
		if path == "baseUrl" {
			if s, ok := value.(string); ok {
				value = strings.TrimRight(s, "/")
			}
		}
		raw, err = sjson.SetBytes(raw, path, value)
		if err != nil {
			return fmt.Errorf("accounts: patch %s.%s: %w", id, path, err)
		}
	}
	raw, _ = sjson.SetBytes(raw, "updatedAt", time.Now())

	return r.kv.Set(ctx, key, string(raw), 0)
}

// Delete removes the account record and its shared-set membership.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.kv.Del(ctx, r.recordKey(id)); err != nil {
		return err
	}
	return r.kv.SRem(ctx, r.sharedSetKey(), id)
}

// ListAll unions the shared-accounts set with a full key scan (to surface
// dedicated accounts not tracked in the shared set), deduplicates, skips
// inactive accounts unless includeInactive is set, and always redacts
// secrets with "***".
func (r *Repository) ListAll(ctx context.Context, includeInactive bool) ([]*Account, error) {
	seen := make(map[string]struct{})
	var ids []string

	sharedIDs, err := r.kv.SMembers(ctx, r.sharedSetKey())
	if err != nil {
		return nil, err
	}
	for _, id := range sharedIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	var cursor uint64
	for {
		keys, next, err := r.kv.Scan(ctx, cursor, r.scanPattern(), 100)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			id := strings.TrimPrefix(k, fmt.Sprintf("%s_account:", r.platform))
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make([]*Account, 0, len(ids))
	for _, id := range ids {
		a, err := r.Get(ctx, id)
		if err != nil {
			log.WithError(err).WithField("account_id", id).Warn("accounts: listAll skipped unreadable record")
			continue
		}
		if !includeInactive && !a.IsActive {
			continue
		}
		redact(a)
		out = append(out, a)
	}
	return out, nil
}

func redact(a *Account) {
	const mask = "***"
	if a.AccessTokenEnc != "" {
		a.AccessTokenEnc = mask
	}
	if a.RefreshTokenEnc != "" {
		a.RefreshTokenEnc = mask
	}
	if a.APIKeyEnc != "" {
		a.APIKeyEnc = mask
	}
	if a.AWSCredsEnc != "" {
		a.AWSCredsEnc = mask
	}
}

// MarkUsed stamps lastUsedAt=now on successful dispatch.
func (r *Repository) MarkUsed(ctx context.Context, id string) error {
	return r.Patch(ctx, id, map[string]any{"lastUsedAt": time.Now()})
}

// SetRateLimited applies or clears the rate-limited state. When limited is
// true, status/schedulable are flipped and rateLimitResetAt is computed
// from duration (falling back to the account's configured
// rateLimitDuration, default 60m). When limited is false, applied to an
// already-active account it only touches updatedAt.
func (r *Repository) SetRateLimited(ctx context.Context, id string, limited bool, duration time.Duration) error {
	if limited {
		a, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if duration <= 0 {
			duration = time.Duration(a.RateLimitDuration) * time.Minute
			if duration <= 0 {
				duration = r.defaultRateLimitDuration
			}
		}
		now := time.Now()
		return r.Patch(ctx, id, map[string]any{
			"rateLimitedAt":    now,
			"rateLimitResetAt": now.Add(duration),
			"status":           StatusRateLimited,
			"schedulable":      false,
		})
	}

	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == StatusActive {
		return r.Patch(ctx, id, map[string]any{})
	}
	return r.Patch(ctx, id, map[string]any{
		"status":           StatusActive,
		"schedulable":      true,
		"rateLimitedAt":    nil,
		"rateLimitResetAt": nil,
	})
}

// MarkUnauthorized transitions the account to unauthorized following a
// 401/402 and bumps the unauthorizedCount counter. Webhook emission is the
// caller's responsibility (the state machine), keeping this method a pure
// storage mutation.
func (r *Repository) MarkUnauthorized(ctx context.Context, id string, reason string) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return r.Patch(ctx, id, map[string]any{
		"status":            StatusUnauthorized,
		"schedulable":       false,
		"errorMessage":      reason,
		"unauthorizedCount": a.UnauthorizedCount + 1,
		"unauthorizedAt":    time.Now(),
	})
}

// ResetStatus is the admin-triggered "any -> active" transition.
func (r *Repository) ResetStatus(ctx context.Context, id string) error {
	return r.Patch(ctx, id, map[string]any{
		"status":            StatusActive,
		"schedulable":       true,
		"errorMessage":      "",
		"unauthorizedAt":    nil,
		"rateLimitedAt":     nil,
		"rateLimitResetAt":  nil,
	})
}

// ToggleSchedulable implements the active<->paused admin transition.
// Turning scheduling on is only legal while the status is paused; the
// status the account held before the pause is not recorded or checked.
func (r *Repository) ToggleSchedulable(ctx context.Context, id string, on bool) error {
	a, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if on {
		if a.Status != StatusPaused {
			return fmt.Errorf("accounts: cannot enable schedulable from status %s", a.Status)
		}
		return r.Patch(ctx, id, map[string]any{"status": StatusActive, "schedulable": true})
	}
	return r.Patch(ctx, id, map[string]any{"status": StatusPaused, "schedulable": false})
}

// IsTokenExpired reports whether an OAuth account's access token has
// expired. Non-OAuth accounts are never expired.
func (a *Account) IsTokenExpired() bool {
	if a.Kind != KindOAuth || a.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*a.ExpiresAt)
}
