// Package errors defines the gateway's client-visible error taxonomy and
// classifies upstream provider failures into it. Every error body written
// to a client has the shape
//
//	{"error":{"message":..., "type":..., "code":..., "upstreamStatus":...}}
//
// with type drawn from the Type* constants below.
package errors

import (
	"time"

	"github.com/tidwall/gjson"
)

// Client-visible error types.
const (
	TypeInvalidRequest        = "invalid_request_error"
	TypePermissionDenied      = "permission_denied"
	TypeServiceUnavailable    = "service_unavailable"
	TypeAPIError              = "api_error"
	TypeAccountNotFound       = "account_not_found"
	TypeInvalidAccountType    = "invalid_account_type"
	TypeConfigurationRequired = "configuration_required"
	TypeUnauthorized          = "unauthorized"
	TypeUsageLimitReached     = "usage_limit_reached"
	TypeStreamError           = "stream_error"
)

// UpstreamError is a provider failure normalised into the gateway taxonomy.
type UpstreamError struct {
	Platform   string
	StatusCode int
	Type       string
	Code       string
	Message    string

	// RetryAfter is the provider's own reset hint (resets_in_seconds,
	// retry_after, or a details[].retryDelay entry), zero when the body
	// carried none.
	// The dispatcher uses it to set rateLimitResetAt.
	RetryAfter time.Duration
}

// Envelope renders the client-visible error body.
func (e *UpstreamError) Envelope() map[string]any {
	inner := map[string]any{
		"message": e.Message,
		"type":    e.Type,
	}
	if e.Code != "" {
		inner["code"] = e.Code
	}
	if e.StatusCode != 0 {
		inner["upstreamStatus"] = e.StatusCode
	}
	return map[string]any{"error": inner}
}

// Classify parses a >=400 upstream response body into the taxonomy. The
// provider-specific shapes differ — Anthropic and OpenAI nest under
// error.{type,code,message}, Gemini under error.{code,status,message} — but
// all collapse onto the same status-driven types.
func Classify(platform string, statusCode int, body []byte) *UpstreamError {
	e := &UpstreamError{Platform: platform, StatusCode: statusCode}

	errObj := gjson.GetBytes(body, "error")
	if errObj.Exists() {
		e.Message = errObj.Get("message").String()
		e.Code = firstNonEmpty(errObj.Get("code").String(), errObj.Get("type").String(), errObj.Get("status").String())
		e.RetryAfter = retryHint(errObj)
		if errObj.Get("type").String() == TypeUsageLimitReached {
			e.Type = TypeUsageLimitReached
		}
	} else if len(body) > 0 {
		e.Message = string(body)
	}
	if e.Message == "" {
		e.Message = "upstream request failed"
	}

	if e.Type == "" {
		e.Type = typeForStatus(statusCode)
	}
	return e
}

func typeForStatus(statusCode int) string {
	switch statusCode {
	case 400, 404, 422:
		return TypeInvalidRequest
	case 401, 402:
		return TypeUnauthorized
	case 403:
		return TypePermissionDenied
	case 429:
		return TypeUsageLimitReached
	case 503, 529:
		return TypeServiceUnavailable
	default:
		return TypeAPIError
	}
}

// retryHint reads whichever reset field the provider speaks:
// resets_in_seconds (OpenAI codex), retry_after (generic), or Google's
// RetryInfo detail with a "600s"-style retryDelay.
func retryHint(errObj gjson.Result) time.Duration {
	if secs := errObj.Get("resets_in_seconds").Int(); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if secs := errObj.Get("retry_after").Int(); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	var d time.Duration
	errObj.Get("details").ForEach(func(_, detail gjson.Result) bool {
		if delay := detail.Get("retryDelay").String(); delay != "" {
			if parsed, err := time.ParseDuration(delay); err == nil {
				d = parsed
				return false
			}
		}
		return true
	})
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
