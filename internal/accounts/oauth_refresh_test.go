package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axiomrelay/gateway/internal/kvstore"
	"github.com/axiomrelay/gateway/internal/vault"
)

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(vault.Config{Passphrase: "p", Salt: []byte("salt-value-unit-test")})
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

func TestTokenRefresherSuccessPersistsNewToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	v := newTestVault(t)
	kv := kvstore.NewMemoryStore()
	repo := NewRepository(PlatformClaude, kv)
	ctx := context.Background()

	encRefresh, err := v.Encrypt("old-refresh")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	a := &Account{ID: "acct-1", Kind: KindOAuth, AccountType: AccountTypeShared, Priority: 50, IsActive: true, Status: StatusActive, RefreshTokenEnc: encRefresh}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	refresher := NewTokenRefresher(v, map[Platform]OAuthClientConfig{
		PlatformClaude: {ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL},
	})

	if err := refresher.Refresh(ctx, repo, a); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if v.Decrypt(a.AccessTokenEnc) != "new-access" {
		t.Fatalf("in-memory access token not updated, got %q", v.Decrypt(a.AccessTokenEnc))
	}
	if v.Decrypt(a.RefreshTokenEnc) != "new-refresh" {
		t.Fatalf("in-memory refresh token not rotated, got %q", v.Decrypt(a.RefreshTokenEnc))
	}

	got, err := repo.Get(ctx, "acct-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Decrypt(got.AccessTokenEnc) != "new-access" {
		t.Fatalf("persisted access token = %q, want new-access", v.Decrypt(got.AccessTokenEnc))
	}
	if got.ExpiresAt == nil || got.ExpiresAt.Before(time.Now()) {
		t.Fatalf("expected a future ExpiresAt, got %v", got.ExpiresAt)
	}
}

func TestTokenRefresherFailsWithoutClientConfig(t *testing.T) {
	v := newTestVault(t)
	kv := kvstore.NewMemoryStore()
	repo := NewRepository(PlatformClaude, kv)
	ctx := context.Background()

	a := &Account{ID: "acct-1", Kind: KindOAuth, AccountType: AccountTypeShared, Priority: 50, IsActive: true, Status: StatusActive}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	refresher := NewTokenRefresher(v, nil)
	if err := refresher.Refresh(ctx, repo, a); err == nil {
		t.Fatal("expected Refresh to fail when no oauth client is configured")
	}
}

func TestTokenRefresherFailsWithoutRefreshToken(t *testing.T) {
	v := newTestVault(t)
	kv := kvstore.NewMemoryStore()
	repo := NewRepository(PlatformClaude, kv)
	ctx := context.Background()

	a := &Account{ID: "acct-1", Kind: KindOAuth, AccountType: AccountTypeShared, Priority: 50, IsActive: true, Status: StatusActive}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	refresher := NewTokenRefresher(v, map[Platform]OAuthClientConfig{
		PlatformClaude: {ClientID: "id", TokenURL: "http://example.invalid/token"},
	})
	if err := refresher.Refresh(ctx, repo, a); err == nil {
		t.Fatal("expected Refresh to fail with no refresh token on file")
	}
}
