package accounts

import (
	"github.com/axiomrelay/gateway/internal/vault"
)

// AuthMaterial is the decrypted credential a dispatcher attaches to an
// outbound request. Exactly one concrete variant is populated per account
// Kind; dispatch code type-switches on it rather than on a platform string.
type AuthMaterial interface {
	isAuthMaterial()
}

// BearerAuth is OAuth-derived: an access token injected as
// "authorization: Bearer <token>".
type BearerAuth struct {
	AccessToken   string
	ProjectID     string
	TempProjectID string
	ChatGPTUserID string
}

func (BearerAuth) isAuthMaterial() {}

// APIKeyAuth is a raw provider API key plus the base URL to call.
type APIKeyAuth struct {
	APIKey  string
	BaseURL string
}

func (APIKeyAuth) isAuthMaterial() {}

// AWSAuth carries bedrock credentials.
type AWSAuth struct {
	CredsBlob      string
	Region         string
	CredentialType CredentialType
}

func (AWSAuth) isAuthMaterial() {}

// AzureAuth carries an Azure OpenAI API key plus resource base URL.
type AzureAuth struct {
	APIKey  string
	BaseURL string
}

func (AzureAuth) isAuthMaterial() {}

// AccountRef is a sealed-sum-type trait: it replaces dynamic dispatch on
// the Kind string with a narrow read-only view
// that the scheduler and dispatcher operate against. The four concrete
// implementations below wrap a common *Account; state mutation still goes
// through Repository, which is the single writer.
type AccountRef interface {
	ID() string
	Platform() Platform
	Priority() int
	AccountType() AccountType
	IsActive() bool
	Schedulable() bool
	Status() Status
	SupportedModels() []string
	SupportsModel(model string) bool
	Proxy() *ProxyConfig
	LastUsedAtUnixNano() (ok bool, t int64)
	// DecryptedSecret resolves this account's upstream credential. It never
	// errors: a vault decrypt failure leaves the secret field of the returned
	// variant empty while its other fields are still filled from the account
	// (the vault itself already logged the WARN).
	DecryptedSecret(v *vault.Vault) AuthMaterial
	Account() *Account
}

type baseRef struct {
	acct *Account
}

func (r baseRef) ID() string               { return r.acct.ID }
func (r baseRef) Platform() Platform        { return r.acct.Platform }
func (r baseRef) Priority() int             { return r.acct.Priority }
func (r baseRef) AccountType() AccountType  { return r.acct.AccountType }
func (r baseRef) IsActive() bool            { return r.acct.IsActive }
func (r baseRef) Schedulable() bool         { return r.acct.Schedulable }
func (r baseRef) Status() Status            { return r.acct.Status }
func (r baseRef) SupportedModels() []string { return r.acct.SupportedModels }
func (r baseRef) SupportsModel(m string) bool {
	return r.acct.SupportsModel(m)
}
func (r baseRef) Proxy() *ProxyConfig { return r.acct.Proxy }
func (r baseRef) Account() *Account   { return r.acct }

func (r baseRef) LastUsedAtUnixNano() (bool, int64) {
	if r.acct.LastUsedAt == nil {
		return false, 0
	}
	return true, r.acct.LastUsedAt.UnixNano()
}

// OauthRef wraps an OAuth-family account (claude, gemini, openai).
type OauthRef struct{ baseRef }

// NewOauthRef constructs an OauthRef. Callers outside this package obtain
// AccountRef values through RefFor, which picks the right constructor from
// Account.Kind.
func NewOauthRef(a *Account) AccountRef { return OauthRef{baseRef{a}} }

func (r OauthRef) DecryptedSecret(v *vault.Vault) AuthMaterial {
	return BearerAuth{
		AccessToken:   v.Decrypt(r.acct.AccessTokenEnc),
		ProjectID:     r.acct.ProjectID,
		TempProjectID: r.acct.TempProjectID,
		ChatGPTUserID: r.acct.ChatGPTUserID,
	}
}

// ApiKeyRef wraps an API-key-family account (gemini-api, openai-responses).
type ApiKeyRef struct{ baseRef }

func NewApiKeyRef(a *Account) AccountRef { return ApiKeyRef{baseRef{a}} }

func (r ApiKeyRef) DecryptedSecret(v *vault.Vault) AuthMaterial {
	return APIKeyAuth{
		APIKey:  v.Decrypt(r.acct.APIKeyEnc),
		BaseURL: r.acct.BaseURL,
	}
}

// AwsCredsRef wraps a bedrock account.
type AwsCredsRef struct{ baseRef }

func NewAwsCredsRef(a *Account) AccountRef { return AwsCredsRef{baseRef{a}} }

func (r AwsCredsRef) DecryptedSecret(v *vault.Vault) AuthMaterial {
	return AWSAuth{
		CredsBlob:      v.Decrypt(r.acct.AWSCredsEnc),
		Region:         r.acct.Region,
		CredentialType: r.acct.CredentialType,
	}
}

// AzureCredsRef wraps an azure-openai account.
type AzureCredsRef struct{ baseRef }

func NewAzureCredsRef(a *Account) AccountRef { return AzureCredsRef{baseRef{a}} }

func (r AzureCredsRef) DecryptedSecret(v *vault.Vault) AuthMaterial {
	return AzureAuth{
		APIKey:  v.Decrypt(r.acct.APIKeyEnc),
		BaseURL: r.acct.BaseURL,
	}
}

// RefFor picks the AccountRef constructor matching a.Kind.
func RefFor(a *Account) AccountRef {
	switch a.Kind {
	case KindOAuth:
		return NewOauthRef(a)
	case KindAWS:
		return NewAwsCredsRef(a)
	case KindAzure:
		return NewAzureCredsRef(a)
	default:
		return NewApiKeyRef(a)
	}
}
