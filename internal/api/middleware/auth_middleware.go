package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/axiomrelay/gateway/internal/apikey"
	gwerrors "github.com/axiomrelay/gateway/internal/errors"
	"github.com/axiomrelay/gateway/internal/usage"
)

const (
	ctxApiKey = "gateway_api_key"
)

// AuthMiddleware resolves the bearer token on every inbound request to its
// ApiKey record, enforces the permission/client/usage-limit/rate-limit/
// concurrency gates, and stores the resolved key in gin's context for
// downstream handlers (mirrors audit_middleware.go's context-value idiom).
func AuthMiddleware(repo *apikey.Repository, limiter *apikey.RateLimiter, gate *apikey.ConcurrencyGate, ledger *usage.Ledger, required apikey.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope("missing bearer token", gwerrors.TypeUnauthorized))
			return
		}

		key, err := repo.GetByRawKey(c.Request.Context(), raw)
		if err != nil || key == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope("invalid api key", gwerrors.TypeUnauthorized))
			return
		}

		if !key.HasPermission(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorEnvelope("api key lacks required permission", gwerrors.TypePermissionDenied))
			return
		}

		if !key.ClientAllowed(c.Request.UserAgent()) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorEnvelope("client not allowed for this api key", gwerrors.TypePermissionDenied))
			return
		}

		if msg := usageLimitExceeded(c, key, ledger); msg != "" {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope(msg, gwerrors.TypeUsageLimitReached))
			return
		}

		if ok, err := limiter.Allow(c.Request.Context(), key); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorEnvelope("rate limit check failed", gwerrors.TypeAPIError))
			return
		} else if !ok {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope("rate limit exceeded", gwerrors.TypeUsageLimitReached))
			return
		}

		acquired, release, err := gate.Acquire(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorEnvelope("concurrency check failed", gwerrors.TypeAPIError))
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope("concurrency limit exceeded", gwerrors.TypeUsageLimitReached))
			return
		}
		defer release()

		c.Set(ctxApiKey, key)
		_ = repo.MarkUsed(c.Request.Context(), key.ID)
		c.Next()
	}
}

// usageLimitExceeded checks the key's lifetime token limit and daily cost
// limit against the ledger, returning a client-facing message when one is
// exhausted. A nil ledger or a read error admits the request: usage gating
// degrades open rather than failing every call on a ledger outage.
func usageLimitExceeded(c *gin.Context, key *apikey.ApiKey, ledger *usage.Ledger) string {
	if ledger == nil {
		return ""
	}
	if key.TokenLimit > 0 {
		total, err := ledger.ApiKeyTotals(c.Request.Context(), key.ID, "total")
		if err == nil && total.Tokens >= key.TokenLimit {
			return "token limit exhausted for this api key"
		}
	}
	if key.DailyCostLimitUSD > 0 {
		today, err := ledger.TodayTotals(c.Request.Context(), key.ID)
		if err == nil && today.CostUSD >= key.DailyCostLimitUSD {
			return "daily cost limit reached for this api key"
		}
	}
	return ""
}

// KeyFromContext retrieves the ApiKey resolved by AuthMiddleware.
func KeyFromContext(c *gin.Context) (*apikey.ApiKey, bool) {
	v, ok := c.Get(ctxApiKey)
	if !ok {
		return nil, false
	}
	k, ok := v.(*apikey.ApiKey)
	return k, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	if k := r.Header.Get("x-goog-api-key"); k != "" {
		return k
	}
	if k := r.URL.Query().Get("key"); k != "" {
		return k
	}
	return ""
}

func errorEnvelope(message, errType string) gin.H {
	return gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
		},
	}
}
