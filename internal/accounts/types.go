// Package accounts implements the provider-account repositories (one per
// provider family) and the account-state machine that governs which
// accounts are eligible for scheduling.
package accounts

import "time"

// Platform identifies the upstream provider family an account authenticates
// against.
type Platform string

const (
	PlatformClaude       Platform = "claude"
	PlatformClaudeConsole Platform = "claude-console"
	PlatformGemini       Platform = "gemini"
	PlatformGeminiAPI    Platform = "gemini-api"
	PlatformOpenAI       Platform = "openai"
	PlatformOpenAIResponses Platform = "openai-responses"
	PlatformAzureOpenAI  Platform = "azure-openai"
	PlatformBedrock      Platform = "bedrock"
	PlatformDroid        Platform = "droid"
	PlatformCCR          Platform = "ccr"
)

// Kind is the authentication family an account belongs to, independent of
// platform: it decides which secret fields are populated and which
// AccountRef implementation wraps the record.
type Kind string

const (
	KindOAuth    Kind = "oauth"
	KindAPIKey   Kind = "api_key"
	KindAWS      Kind = "aws_creds"
	KindAzure    Kind = "azure_creds"
)

// AccountType describes whether an account is shared across the tenant pool
// or dedicated to a specific apiKey binding.
type AccountType string

const (
	AccountTypeShared    AccountType = "shared"
	AccountTypeDedicated AccountType = "dedicated"
)

// Status is the account-state-machine state.
type Status string

const (
	StatusActive       Status = "active"
	StatusRateLimited  Status = "rateLimited"
	StatusUnauthorized Status = "unauthorized"
	StatusError        Status = "error"
	StatusPaused       Status = "paused"
	StatusCreated      Status = "created"
)

// ProxyConfig describes an account-scoped egress proxy.
type ProxyConfig struct {
	Scheme   string `json:"scheme"` // http, https, socks5
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CredentialType distinguishes bedrock authentication modes.
type CredentialType string

const (
	CredentialTypeDefault      CredentialType = "default"
	CredentialTypeAccessKey    CredentialType = "access_key"
	CredentialTypeBearerToken CredentialType = "bearer_token"
)

// Account is the provider-account record. It carries every family's fields;
// only the ones relevant to Kind are populated, following the practice of
// one wide record type per entity rather than per-family structs.
// Secret fields hold vault-encrypted blobs, never plaintext.
type Account struct {
	ID          string      `json:"id"`
	Platform    Platform    `json:"platform"`
	Kind        Kind        `json:"kind"`
	Name        string      `json:"name"`
	Priority    int         `json:"priority"`
	AccountType AccountType `json:"accountType"`

	IsActive    bool   `json:"isActive"`
	Schedulable bool   `json:"schedulable"`
	Status      Status `json:"status"`

	Proxy           *ProxyConfig `json:"proxy,omitempty"`
	SupportedModels []string     `json:"supportedModels,omitempty"`

	RateLimitedAt     *time.Time `json:"rateLimitedAt,omitempty"`
	RateLimitResetAt  *time.Time `json:"rateLimitResetAt,omitempty"`
	RateLimitDuration int        `json:"rateLimitDuration"` // minutes
	RateLimitStatus   string     `json:"rateLimitStatus,omitempty"`

	UnauthorizedAt    *time.Time `json:"unauthorizedAt,omitempty"`
	UnauthorizedCount int        `json:"unauthorizedCount"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`

	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`

	// OAuth family (claude, gemini, openai).
	AccessTokenEnc  string     `json:"accessTokenEnc,omitempty"`
	RefreshTokenEnc string     `json:"refreshTokenEnc,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	ProjectID       string     `json:"projectId,omitempty"`
	TempProjectID   string     `json:"tempProjectId,omitempty"`
	ChatGPTUserID   string     `json:"chatgptUserId,omitempty"`

	// API-key family (gemini-api, openai-responses, azure-openai).
	APIKeyEnc string `json:"apiKeyEnc,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`

	// Bedrock.
	AWSCredsEnc    string         `json:"awsCredsEnc,omitempty"`
	Region         string         `json:"region,omitempty"`
	CredentialType CredentialType `json:"credentialType,omitempty"`
}

// SupportsModel reports whether the account may serve model m. An empty
// SupportedModels list means "all models".
func (a *Account) SupportsModel(m string) bool {
	if len(a.SupportedModels) == 0 {
		return true
	}
	for _, allowed := range a.SupportedModels {
		if allowed == m {
			return true
		}
	}
	return false
}

// Group is a named collection of accounts within one platform that an
// apiKey binding slot may reference as "group:<id>".
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Platform Platform `json:"platform"`
	Members  []string `json:"members"`
}
