// Package apikey implements the client-facing credential: the bearer
// token callers present to the gateway, its permission and binding
// configuration, and the sliding-window rate limiter that enforces it.
package apikey

import "time"

// Permission is the coarse action an ApiKey is allowed to perform.
type Permission string

const (
	PermissionChat       Permission = "chat"
	PermissionEmbeddings Permission = "embeddings"
	PermissionModels     Permission = "models"
	PermissionAdmin      Permission = "admin"
)

// RateLimitWindow configures a key's sliding window: at most Requests
// calls per Seconds-long window. The window's runtime counters (requests,
// tokens, cost, anchor) live in the KV store; see WindowUsage.
type RateLimitWindow struct {
	Requests int `json:"requests"`
	Seconds  int `json:"seconds"`
}

// WindowUsage is the current window's accumulated counters: anchored at
// WindowStart, advanced by RateLimiter.Allow (requests) and
// RateLimiter.RecordUsage (tokens, cost) after each successful call.
type WindowUsage struct {
	WindowStart time.Time `json:"windowStart"`
	Requests    int64     `json:"requests"`
	Tokens      int64     `json:"tokens"`
	CostUSD     float64   `json:"costUsd"`
}

// ApiKey is the client-facing credential record. Binding slots name a
// platform's account selection: "" (any schedulable account), "group:<id>",
// or a specific account ID, resolved by internal/scheduler.
type ApiKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HashedKey string `json:"hashedKey"`
	IsDeleted bool   `json:"isDeleted"`

	Permissions []Permission `json:"permissions,omitempty"`

	TokenLimit        int64           `json:"tokenLimit,omitempty"`
	DailyCostLimitUSD float64         `json:"dailyCostLimitUsd,omitempty"`
	RateLimit         RateLimitWindow `json:"rateLimit,omitempty"`
	ConcurrencyLimit  int             `json:"concurrencyLimit,omitempty"`

	EnableModelRestriction bool     `json:"enableModelRestriction,omitempty"`
	RestrictedModels       []string `json:"restrictedModels,omitempty"`

	EnableClientRestriction bool     `json:"enableClientRestriction,omitempty"`
	AllowedClients          []string `json:"allowedClients,omitempty"`

	// Bindings maps a platform name to a binding slot value.
	Bindings map[string]string `json:"bindings,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// HasPermission reports whether the key carries p. An empty Permissions
// list is treated as "chat only", the minimum viable grant.
func (k *ApiKey) HasPermission(p Permission) bool {
	if len(k.Permissions) == 0 {
		return p == PermissionChat
	}
	for _, have := range k.Permissions {
		if have == p || have == PermissionAdmin {
			return true
		}
	}
	return false
}

// RestrictedModelSet builds a lookup set for scheduler.SelectOptions.
func (k *ApiKey) RestrictedModelSet() map[string]struct{} {
	if !k.EnableModelRestriction || len(k.RestrictedModels) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(k.RestrictedModels))
	for _, m := range k.RestrictedModels {
		set[m] = struct{}{}
	}
	return set
}

// ClientAllowed reports whether userAgent passes the client restriction.
func (k *ApiKey) ClientAllowed(userAgent string) bool {
	if !k.EnableClientRestriction || len(k.AllowedClients) == 0 {
		return true
	}
	for _, c := range k.AllowedClients {
		if c == userAgent {
			return true
		}
	}
	return false
}
