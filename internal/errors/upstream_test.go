package errors

import (
	"testing"
	"time"
)

func TestClassifyRateLimitWithResetHint(t *testing.T) {
	body := []byte(`{"error":{"type":"usage_limit_reached","resets_in_seconds":600}}`)
	e := Classify("openai", 429, body)
	if e.Type != TypeUsageLimitReached {
		t.Fatalf("Type = %q, want %q", e.Type, TypeUsageLimitReached)
	}
	if e.RetryAfter != 600*time.Second {
		t.Fatalf("RetryAfter = %v, want 600s", e.RetryAfter)
	}
}

func TestClassifyStatusDrivenTypes(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{400, TypeInvalidRequest},
		{401, TypeUnauthorized},
		{402, TypeUnauthorized},
		{403, TypePermissionDenied},
		{429, TypeUsageLimitReached},
		{500, TypeAPIError},
		{503, TypeServiceUnavailable},
		{529, TypeServiceUnavailable},
	}
	for _, tc := range cases {
		e := Classify("claude", tc.status, []byte(`{"error":{"message":"x"}}`))
		if e.Type != tc.want {
			t.Errorf("status %d: Type = %q, want %q", tc.status, e.Type, tc.want)
		}
	}
}

func TestClassifyGeminiShape(t *testing.T) {
	body := []byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`)
	e := Classify("gemini", 429, body)
	if e.Message != "quota exceeded" {
		t.Fatalf("Message = %q", e.Message)
	}
	if e.RetryAfter != 30*time.Second {
		t.Fatalf("RetryAfter = %v, want 30s", e.RetryAfter)
	}
}

func TestClassifyNonJSONBody(t *testing.T) {
	e := Classify("openai", 502, []byte("Bad Gateway"))
	if e.Message != "Bad Gateway" || e.Type != TypeAPIError {
		t.Fatalf("got %+v", e)
	}
}

func TestEnvelopeShape(t *testing.T) {
	e := &UpstreamError{StatusCode: 429, Type: TypeUsageLimitReached, Code: "rate_limit", Message: "slow down"}
	env := e.Envelope()
	inner, ok := env["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error object")
	}
	if inner["type"] != TypeUsageLimitReached || inner["message"] != "slow down" || inner["code"] != "rate_limit" || inner["upstreamStatus"] != 429 {
		t.Fatalf("envelope = %#v", inner)
	}
}
