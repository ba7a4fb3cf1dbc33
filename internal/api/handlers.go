package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/axiomrelay/gateway/internal/accounts"
	"github.com/axiomrelay/gateway/internal/apikey"
	"github.com/axiomrelay/gateway/internal/dialect"
	"github.com/axiomrelay/gateway/internal/dispatch"
	gwerrors "github.com/axiomrelay/gateway/internal/errors"
	"github.com/axiomrelay/gateway/internal/scheduler"
)

const (
	anthropicDefaultBase = "https://api.anthropic.com/v1/messages"
	openaiDefaultBase    = "https://api.openai.com/v1/chat/completions"
	codexDefaultBase     = "https://chatgpt.com/backend-api/codex/responses"
)

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	c.Request.Body.Close()
	return body, nil
}

func sessionHash(c *gin.Context, rawKey string) string {
	return scheduler.SessionHash(c.Request.UserAgent(), c.ClientIP(), rawKey)
}

func writeError(c *gin.Context, status int, message, errType string) {
	writeErrorCode(c, status, message, errType, "")
}

func writeErrorCode(c *gin.Context, status int, message, errType, code string) {
	inner := gin.H{"message": message, "type": errType}
	if code != "" {
		inner["code"] = code
	}
	c.AbortWithStatusJSON(status, gin.H{"error": inner})
}

// resolvePlatform picks the provider family for a route more than one
// family can serve: the first candidate the key explicitly binds (a
// non-empty binding slot under that platform's name) wins, otherwise the
// route's default family. This is what makes the non-default families
// (claude-console, bedrock, ccr, droid, gemini-api, azure-openai)
// reachable — the dialect route stays the same, the binding redirects it.
func resolvePlatform(key *apikey.ApiKey, candidates []accounts.Platform, def accounts.Platform) accounts.Platform {
	if key == nil {
		return def
	}
	for _, p := range candidates {
		if b, ok := key.Bindings[string(p)]; ok && b != "" {
			return p
		}
	}
	return def
}

// handleAnthropicMessages implements POST /v1/messages, /messages
// (Anthropic-messages). The claude-official pool is the default; a key
// bound to a claude-console, bedrock, ccr, or droid account routes the
// same dialect to that family instead (all of them speak
// Anthropic-messages upstream; console/ccr/droid accounts carry their own
// baseUrl, which the dispatcher rebases onto).
func (s *Server) handleAnthropicMessages(c *gin.Context) {
	key, _ := currentApiKey(c)
	platform := resolvePlatform(key, []accounts.Platform{
		accounts.PlatformClaudeConsole,
		accounts.PlatformBedrock,
		accounts.PlatformCCR,
		accounts.PlatformDroid,
	}, accounts.PlatformClaude)
	s.dispatchDialect(c, platform, dialect.AnthropicMessages, anthropicDefaultBase, dialect.ValidateAnthropicBody, nil)
}

// handleOpenAIChat implements POST /v1/chat/completions (OpenAI-chat).
// Requests bound to a gemini account are bridged through
// OpenAIChatToGeminiContents; a key bound to an azure-openai account
// routes there (its baseUrl is the Azure resource endpoint); otherwise the
// body passes straight to OpenAI.
func (s *Server) handleOpenAIChat(c *gin.Context) {
	key, _ := currentApiKey(c)
	platform := accounts.PlatformOpenAI
	if key != nil {
		if b, ok := key.Bindings["openai"]; ok && strings.HasPrefix(b, "gemini") {
			platform = accounts.PlatformGemini
		} else {
			platform = resolvePlatform(key, []accounts.Platform{accounts.PlatformAzureOpenAI}, accounts.PlatformOpenAI)
		}
	}
	s.dispatchDialect(c, platform, dialect.OpenAIChat, openaiDefaultBase, dialect.ValidateOpenAIChatBody, func(body []byte) ([]byte, error) {
		if platform == accounts.PlatformGemini {
			return dialect.OpenAIChatToGeminiContents(body)
		}
		return body, nil
	})
}

// handleCodexResponses implements POST {,/v1}/responses[/compact]
// (Codex-responses).
func (s *Server) handleCodexResponses(c *gin.Context) {
	isCompact := strings.HasSuffix(c.Request.URL.Path, "/compact")
	ua := c.Request.UserAgent()
	s.dispatchDialect(c, accounts.PlatformOpenAIResponses, dialect.CodexResponses, codexDefaultBase, nil, func(body []byte) ([]byte, error) {
		return dialect.PrepareCodexRequest(body, ua, isCompact)
	})
}

// handleGeminiAction implements POST /v1beta/models/{model}:{action}
// (Gemini-standard), routing to streamGenerateContent or
// generateContent based on the ":action" suffix in the path parameter. A
// key bound to a gemini-api account routes to that family (raw provider
// API keys); otherwise the OAuth gemini pool serves the request.
func (s *Server) handleGeminiAction(c *gin.Context) {
	raw := c.Param("model")
	model, action := splitModelAction(raw)
	if model == "" || action == "" {
		writeError(c, http.StatusBadRequest, "missing model action suffix", gwerrors.TypeInvalidRequest)
		return
	}
	streaming := action == "streamGenerateContent"

	key, _ := currentApiKey(c)
	body, err := readBody(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read request body", gwerrors.TypeInvalidRequest)
		return
	}

	platform := resolvePlatform(key, []accounts.Platform{accounts.PlatformGeminiAPI}, accounts.PlatformGemini)
	isAPIKeyFamily := platform == accounts.PlatformGeminiAPI

	req := dispatch.Request{
		Platform:         platform,
		Dialect:          dialect.GeminiStandard,
		Model:            model,
		Method:           http.MethodPost,
		Streaming:        streaming,
		AllowAPIAccounts: true,
	}
	if key != nil {
		req.ApiKeyID = key.ID
		req.Binding = key.Bindings[string(platform)]
		req.RestrictedModels = key.RestrictedModelSet()
		req.SessionHash = sessionHash(c, key.HashedKey)
		req.RateLimit = key.RateLimit
	}

	prepared, err := dialect.PrepareGeminiStandardRequest(body, isAPIKeyFamily)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), gwerrors.TypeInvalidRequest)
		return
	}
	req.Body = prepared

	// The URL depends on the selected account: gemini-api accounts carry
	// their own baseUrl and authenticate via a key query parameter, so
	// composition is deferred until the scheduler has picked one.
	req.ResolveURL = func(auth accounts.AuthMaterial) (string, error) {
		base := "https://generativelanguage.googleapis.com"
		keyParam := ""
		if ak, ok := auth.(accounts.APIKeyAuth); ok {
			if ak.BaseURL != "" {
				base = ak.BaseURL
			}
			keyParam = ak.APIKey
		}
		return dialect.BuildGeminiURL(base, model, action, keyParam, streaming), nil
	}

	s.runDispatch(c, req)
}

// handleGeminiInternal implements POST /v1internal:{action}
// (Gemini-v1internal): OAuth-only, rejects API-key accounts.
func (s *Server) handleGeminiInternal(c *gin.Context) {
	action := strings.TrimPrefix(c.Request.URL.Path, "/v1internal:")
	key, _ := currentApiKey(c)
	body, err := readBody(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read request body", gwerrors.TypeInvalidRequest)
		return
	}

	model := gjson.GetBytes(body, "model").String()
	inner, err := dialect.PrepareGeminiStandardRequest(body, false)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), gwerrors.TypeInvalidRequest)
		return
	}
	wrapped, err := dialect.WrapGeminiInternal(inner, model, "", "")
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error(), gwerrors.TypeAPIError)
		return
	}

	req := dispatch.Request{
		Platform:  accounts.PlatformGemini,
		Dialect:   dialect.GeminiInternal,
		Model:     model,
		Method:    http.MethodPost,
		Streaming: action == "streamGenerateContent",
		Body:      wrapped,
		URL:       "https://cloudcode-pa.googleapis.com/v1internal:" + action,
		UnwrapSSEEnvelope: true,
	}
	if key != nil {
		req.ApiKeyID = key.ID
		req.Binding = key.Bindings["gemini"]
		req.RestrictedModels = key.RestrictedModelSet()
		req.RateLimit = key.RateLimit
	}

	s.runDispatch(c, req)
}

func splitModelAction(raw string) (model, action string) {
	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], raw[idx+1:]
}

// dispatchDialect handles the common shape shared by Anthropic/OpenAI/Codex
// routes: read body, optionally transform it, build a Request against
// defaultURL, and hand off to runDispatch.
func (s *Server) dispatchDialect(c *gin.Context, platform accounts.Platform, d dialect.Dialect, defaultURL string, validate func([]byte) error, transform func([]byte) ([]byte, error)) {
	key, _ := currentApiKey(c)
	body, err := readBody(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read request body", gwerrors.TypeInvalidRequest)
		return
	}
	if validate != nil {
		if err := validate(body); err != nil {
			writeError(c, http.StatusBadRequest, err.Error(), gwerrors.TypeInvalidRequest)
			return
		}
	}
	if transform != nil {
		body, err = transform(body)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error(), gwerrors.TypeInvalidRequest)
			return
		}
	}

	model := gjson.GetBytes(body, "model").String()
	streaming := gjson.GetBytes(body, "stream").Bool()

	req := dispatch.Request{
		Platform:         platform,
		Dialect:          d,
		Model:            model,
		Method:           http.MethodPost,
		URL:              defaultURL,
		Body:             body,
		Streaming:        streaming,
		AllowAPIAccounts: true,
	}
	if key != nil {
		req.ApiKeyID = key.ID
		req.Binding = key.Bindings[string(platform)]
		req.RestrictedModels = key.RestrictedModelSet()
		req.SessionHash = sessionHash(c, key.HashedKey)
		req.RateLimit = key.RateLimit
	}

	s.runDispatch(c, req)
}

// runDispatch invokes the dispatcher and translates a pre-dispatch error
// (no bytes written yet) into the client error envelope.
func (s *Server) runDispatch(c *gin.Context, req dispatch.Request) {
	if err := s.dispatcher.Dispatch(requestContext(c), c.Writer, req); err != nil {
		status := http.StatusBadGateway
		errType := gwerrors.TypeAPIError
		code := ""
		if err == scheduler.ErrNoAvailableAccount {
			status = http.StatusServiceUnavailable
			errType = gwerrors.TypeServiceUnavailable
		} else if err == scheduler.ErrSessionBindingInvalid {
			status = http.StatusForbidden
			errType = gwerrors.TypePermissionDenied
			code = "SESSION_BINDING_INVALID"
		} else if err == dispatch.ErrCircuitOpen {
			status = http.StatusServiceUnavailable
			errType = gwerrors.TypeServiceUnavailable
			code = "circuit_open"
		} else if err == scheduler.ErrAdmissionQueueFull {
			status = http.StatusServiceUnavailable
			errType = gwerrors.TypeServiceUnavailable
		}
		writeErrorCode(c, status, err.Error(), errType, code)
	}
}

// handleListModels implements GET /v1beta/models, /v1/models, /models.
func (s *Server) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.models.List()})
}

// handleUsage implements GET /usage: the caller's own usage aggregates
// mirror.
func (s *Server) handleUsage(c *gin.Context) {
	key, ok := currentApiKey(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "missing api key", gwerrors.TypeUnauthorized)
		return
	}
	total, _ := s.ledger.ApiKeyTotals(requestContext(c), key.ID, "total")
	today, _ := s.ledger.TodayTotals(requestContext(c), key.ID)
	c.JSON(http.StatusOK, gin.H{
		"total": gin.H{"requests": total.Requests, "tokens": total.Tokens, "costUsd": total.CostUSD},
		"today": gin.H{"requests": today.Requests, "tokens": today.Tokens, "costUsd": today.CostUSD},
	})
}

// handleKeyInfo implements GET /key-info: the caller's own ApiKey record
// with HashedKey redacted.
func (s *Server) handleKeyInfo(c *gin.Context) {
	key, ok := currentApiKey(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "missing api key", gwerrors.TypeUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                      key.ID,
		"name":                    key.Name,
		"permissions":             key.Permissions,
		"tokenLimit":              key.TokenLimit,
		"dailyCostLimitUsd":       key.DailyCostLimitUSD,
		"concurrencyLimit":        key.ConcurrencyLimit,
		"enableModelRestriction":  key.EnableModelRestriction,
		"restrictedModels":        key.RestrictedModels,
		"enableClientRestriction": key.EnableClientRestriction,
	})
}
