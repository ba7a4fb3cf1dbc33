package accounts

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/axiomrelay/gateway/internal/vault"
)

// OAuthClientConfig names the refresh_token-grant client registration used
// to refresh one platform's OAuth-family accounts. Acquiring the initial
// token (authorization-code/device flow) is an external collaborator; this
// type only feeds the refresh step.
type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// TokenRefresher performs the scheduler's lazy-refresh-once step for an
// expired OAuth-family account. It is grounded on golang.org/x/oauth2's
// Config.TokenSource, which implements the refresh_token grant so this
// package never hand-rolls the token-endpoint request.
type TokenRefresher struct {
	vault   *vault.Vault
	clients map[Platform]OAuthClientConfig
}

// NewTokenRefresher builds a refresher over the given per-platform client
// registrations. A nil or empty clients map makes every Refresh call fail
// fast with ErrNoRefreshClient, which callers treat the same as any other
// refresh failure.
func NewTokenRefresher(v *vault.Vault, clients map[Platform]OAuthClientConfig) *TokenRefresher {
	return &TokenRefresher{vault: v, clients: clients}
}

// ErrNoRefreshClient is returned when no OAuth client is configured for an
// account's platform.
var ErrNoRefreshClient = fmt.Errorf("accounts: no oauth client configured for platform")

// Refresh attempts one refresh_token exchange for a via repo's backing
// store. On success it re-encrypts and persists the new access token,
// rotated refresh token (if the provider issued one), and expiry, and
// updates a's in-memory fields so the caller's current gating pass
// observes the refreshed token immediately. Any failure is returned as an
// error (wrapping the underlying cause where there is one); the caller is
// expected to mark the account unauthorized.
func (t *TokenRefresher) Refresh(ctx context.Context, repo *Repository, a *Account) error {
	if t == nil {
		return ErrNoRefreshClient
	}
	cfg, ok := t.clients[a.Platform]
	if !ok || cfg.TokenURL == "" {
		return fmt.Errorf("%w: %s", ErrNoRefreshClient, a.Platform)
	}
	refreshToken := t.vault.Decrypt(a.RefreshTokenEnc)
	if refreshToken == "" {
		return fmt.Errorf("accounts: account %s has no refresh token on file", a.ID)
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return fmt.Errorf("accounts: refresh token exchange failed for %s: %w", a.ID, err)
	}

	accessEnc, err := t.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("accounts: encrypt refreshed access token: %w", err)
	}

	patch := map[string]any{
		"accessTokenEnc": accessEnc,
		"expiresAt":      tok.Expiry,
	}
	a.AccessTokenEnc = accessEnc
	expiry := tok.Expiry
	a.ExpiresAt = &expiry

	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		refreshEnc, err := t.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("accounts: encrypt rotated refresh token: %w", err)
		}
		patch["refreshTokenEnc"] = refreshEnc
		a.RefreshTokenEnc = refreshEnc
	}

	if err := repo.Patch(ctx, a.ID, patch); err != nil {
		return fmt.Errorf("accounts: persist refreshed token for %s: %w", a.ID, err)
	}

	log.WithField("account_id", a.ID).Info("accounts: refreshed oauth access token")
	return nil
}
