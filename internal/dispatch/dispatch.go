// Package dispatch implements the dispatcher: the component that turns a
// resolved account + translated request into an upstream HTTP call, relays
// its response (streaming or not) back to the client, and feeds the
// outcome back into the account-state machine and usage ledger.
//
// A provider error never triggers a silent retry against a
// different account within one dispatch: the account's state is updated
// (rate-limited, unauthorized, ...) and the error is surfaced to the
// client. A client that wants a retry issues a new request, which the
// scheduler then routes around the now-ineligible account naturally.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/axiomrelay/gateway/internal/accounts"
	"github.com/axiomrelay/gateway/internal/apikey"
	"github.com/axiomrelay/gateway/internal/cache"
	"github.com/axiomrelay/gateway/internal/dialect"
	providererrors "github.com/axiomrelay/gateway/internal/errors"
	"github.com/axiomrelay/gateway/internal/observability"
	"github.com/axiomrelay/gateway/internal/scheduler"
	"github.com/axiomrelay/gateway/internal/stream"
	"github.com/axiomrelay/gateway/internal/tokencount"
	"github.com/axiomrelay/gateway/internal/transport"
	"github.com/axiomrelay/gateway/internal/usage"
	"github.com/axiomrelay/gateway/internal/vault"
)

// ErrCircuitOpen is returned when an account's circuit breaker has tripped
// and the dispatcher declines to place any load on it.
var ErrCircuitOpen = fmt.Errorf("dispatch: account circuit breaker open")

// Request is the input to Dispatch, already translated into the upstream
// dialect's wire format by the internal/dialect adapters.
type Request struct {
	ApiKeyID         string
	Platform         accounts.Platform
	Dialect          dialect.Dialect
	Model            string
	Body             []byte
	Method           string
	URL              string // fully-formed upstream URL; caller resolved via dialect.BuildGeminiURL or a fixed path
	ExtraHeaders     map[string]string
	Streaming        bool
	UnwrapSSEEnvelope bool // only true for OAuth Gemini Cloud Code dispatch, per stream.New's doc

	AllowAPIAccounts   bool
	Binding            string
	SessionHash        string
	RestrictedModels   map[string]struct{}
	GlobalSessionUserID string

	// RateLimit is the calling key's window config, carried so reportUsage
	// can apply the call's tokens/cost to the same window Allow ticked.
	RateLimit apikey.RateLimitWindow

	// ResolveURL, when set, builds the upstream URL from the selected
	// account's decrypted credential; the scheduler hasn't run when the
	// handler fills in Request, so anything that depends on the account's
	// own baseUrl or key must be deferred to this hook. When nil, URL is
	// used as-is, rebased onto the credential's BaseURL if it carries one.
	ResolveURL func(auth accounts.AuthMaterial) (string, error)

	// ResponseTransform, when set, rewrites a non-streaming upstream body
	// into the dialect the client actually requested before it is written
	// or cached - the response-side mirror of the request transform
	// dispatchDialect already applies on the way in (e.g. bridging a
	// Gemini response back into OpenAI chat-completion shape for a
	// gemini-bound /v1/chat/completions call).
	ResponseTransform func(body []byte) ([]byte, error)
}

// Dispatcher wires together the unified scheduler, credential vault,
// pooled transport, SSE relay, usage ledger, and per-platform state
// machines into the single entry point HTTP handlers call.
type Dispatcher struct {
	Scheduler    *scheduler.Scheduler
	Vault        *vault.Vault
	Transport    *transport.Pool
	Ledger       *usage.Ledger
	StateMachines map[accounts.Platform]*accounts.StateMachine
	Breakers     *BreakerSet
	Admission    *scheduler.Admission
	Estimator    *tokencount.Estimator
	Cache        *cache.ResponseCache
	Metrics      *observability.Metrics
	Thinking     *dialect.ThinkingParser

	// Archive, when non-nil, receives a per-request usage row alongside
	// the ledger's counter updates. Set by the caller after New; nil-safe.
	Archive *usage.Archive

	// Limiter, when non-nil, gets each call's tokens and cost applied to
	// the key's sliding rate-limit window after the request completes.
	// Set by the caller after New.
	Limiter *apikey.RateLimiter

	// RequestTimeout/StreamTimeout bound each upstream call; New fills in
	// the transport defaults, the caller may override from config.
	RequestTimeout time.Duration
	StreamTimeout  time.Duration
}

// New builds a Dispatcher. Admission is constructed but not started; the
// caller starts its worker pool with Admission.Start once the gateway is
// otherwise ready to serve traffic. responseCache and metrics may be nil,
// disabling response caching and metric collection respectively.
func New(sched *scheduler.Scheduler, v *vault.Vault, tp *transport.Pool, ledger *usage.Ledger, sms map[accounts.Platform]*accounts.StateMachine, responseCache *cache.ResponseCache, metrics *observability.Metrics, thinkingCfg dialect.ThinkingConfig) *Dispatcher {
	return &Dispatcher{
		Scheduler:     sched,
		Vault:         v,
		Transport:     tp,
		Ledger:        ledger,
		StateMachines: sms,
		Breakers:      NewBreakerSet(DefaultBreakerConfig()),
		Admission:     scheduler.NewAdmission(scheduler.DefaultAdmissionConfig()),
		Estimator:     tokencount.New(0),
		Cache:         responseCache,
		Metrics:       metrics,
		Thinking:      dialect.NewThinkingParser(thinkingCfg),
		RequestTimeout: transport.DefaultRequestTimeout,
		StreamTimeout:  transport.DefaultStreamTimeout,
	}
}

// thinkingProviderFor maps a dialect to the wire shape its thinking blocks
// use, or "" for dialects that don't carry thinking content.
func thinkingProviderFor(d dialect.Dialect) dialect.ThinkingProvider {
	switch d {
	case dialect.AnthropicMessages:
		return dialect.ThinkingClaude
	case dialect.GeminiStandard, dialect.GeminiInternal:
		return dialect.ThinkingGemini
	default:
		return ""
	}
}

// responseCacheKey scopes a cache entry to both the calling apiKey and the
// exact request body, so one tenant's cached response is never served to
// another: the gateway is multi-tenant and conversation content is not
// shared infrastructure the way a single-tenant proxy's cache would be.
func responseCacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.ApiKeyID))
	h.Write([]byte{0})
	h.Write([]byte(req.Dialect))
	h.Write([]byte{0})
	h.Write(req.Body)
	return hex.EncodeToString(h.Sum(nil))
}

// Dispatch admits req through the weighted-fair admission queue (one queue
// per apiKey) before selecting an account, sending req upstream, and
// relaying the response to w. It returns an error only for failures the
// caller (an HTTP handler) must itself translate into a client-visible
// response, i.e. when nothing has been written to w yet; once headers are
// flushed, Dispatch handles both success and upstream failure entirely
// itself.
func (d *Dispatcher) Dispatch(ctx context.Context, w http.ResponseWriter, req Request) error {
	apiKeyID := req.ApiKeyID
	if apiKeyID == "" {
		apiKeyID = "anonymous"
	}
	estimated := d.Estimator.Estimate(req.Body)
	return d.Admission.Admit(ctx, apiKeyID, estimated, func() error {
		return d.dispatchOnce(ctx, w, req)
	})
}

// dispatchOnce performs the actual account selection, upstream call, and
// response relay for a request already admitted by the admission queue.
// Non-streaming responses are served from / captured into d.Cache when
// present; streaming responses bypass the cache, since replaying
// a cached SSE stream isn't wired into this pass (see DESIGN.md).
func (d *Dispatcher) dispatchOnce(ctx context.Context, w http.ResponseWriter, req Request) error {
	var cacheKey string
	if d.Cache != nil && !req.Streaming {
		cacheKey = responseCacheKey(req)
		if cached, ok := d.Cache.Get(req.Model, cacheKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Gateway-Cache", "hit")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			d.Metrics.RecordCacheHit()
			return nil
		}
		d.Metrics.RecordCacheMiss()
	}

	d.Metrics.IncActive()
	defer d.Metrics.DecActive()
	start := time.Now()

	sel, err := d.Scheduler.Select(ctx, scheduler.SelectOptions{
		Platform:            req.Platform,
		RequestedModel:      req.Model,
		AllowAPIAccounts:    req.AllowAPIAccounts,
		Binding:             req.Binding,
		SessionHash:         req.SessionHash,
		RestrictedModels:    req.RestrictedModels,
		GlobalSessionUserID: req.GlobalSessionUserID,
	})
	if err != nil {
		return err
	}
	account := sel.Ref.Account()

	breaker := d.Breakers.For(account.ID)
	if !breaker.Allow() {
		return ErrCircuitOpen
	}

	timeout := d.RequestTimeout
	if req.Streaming {
		timeout = d.StreamTimeout
	}
	client := d.Transport.ClientFor(account, timeout)

	httpReq, err := d.buildUpstreamRequest(ctx, req, sel.Ref)
	if err != nil {
		return fmt.Errorf("dispatch: build upstream request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		breaker.RecordFailure()
		d.recordProviderOutcome(string(req.Platform), false)
		return fmt.Errorf("dispatch: upstream call failed: %w", err)
	}
	decoded, err := transport.DecodeBody(resp)
	if err != nil {
		resp.Body.Close()
		breaker.RecordFailure()
		d.recordProviderOutcome(string(req.Platform), false)
		return fmt.Errorf("dispatch: decode upstream response: %w", err)
	}
	resp.Body = decoded
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
		d.recordProviderOutcome(string(req.Platform), resp.StatusCode < 500)
		d.recordRequestMetric(req, resp.StatusCode, start)
		d.handleUpstreamError(ctx, w, account, req, resp)
		return nil
	}
	breaker.RecordSuccess()
	d.recordProviderOutcome(string(req.Platform), true)

	if req.Streaming {
		d.relayStream(ctx, w, account, req, resp)
		d.recordRequestMetric(req, resp.StatusCode, start)
		return nil
	}

	err = d.relayResponse(ctx, w, account, req, resp, cacheKey)
	d.recordRequestMetric(req, resp.StatusCode, start)
	return err
}

// recordProviderOutcome updates the per-platform health gauge and error
// counter after each dispatch attempt.
func (d *Dispatcher) recordProviderOutcome(provider string, healthy bool) {
	d.Metrics.SetProviderHealth(provider, healthy)
	if !healthy {
		d.Metrics.RecordProviderError(provider)
	}
}

// recordRequestMetric records the completed request's duration and status.
// Token counts are recorded separately by reportUsage once the response
// body has been parsed.
func (d *Dispatcher) recordRequestMetric(req Request, statusCode int, start time.Time) {
	status := "success"
	if statusCode >= 400 {
		status = "error"
	}
	d.Metrics.RecordRequest(string(req.Platform), req.Model, status, time.Since(start).Seconds())
}

// buildUpstreamRequest resolves the target URL and auth headers from the
// selected account's decrypted credential. The URL is finalized here, not
// in the handler, because the account (and therefore its configured
// baseUrl and key) isn't known until the scheduler has run.
func (d *Dispatcher) buildUpstreamRequest(ctx context.Context, req Request, ref accounts.AccountRef) (*http.Request, error) {
	auth := ref.DecryptedSecret(d.Vault)

	target := req.URL
	if req.ResolveURL != nil {
		resolved, err := req.ResolveURL(auth)
		if err != nil {
			return nil, err
		}
		target = resolved
	} else if base := authBaseURL(auth); base != "" {
		target = rebaseURL(target, base)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, newBodyReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", transport.AcceptEncoding)
	for k, v := range req.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	switch auth := auth.(type) {
	case accounts.BearerAuth:
		httpReq.Header.Set("Authorization", "Bearer "+auth.AccessToken)
	case accounts.APIKeyAuth:
		// x-api-key and x-goog-api-key are sent redundantly; different
		// upstream variants read different ones.
		httpReq.Header.Set("x-api-key", auth.APIKey)
		httpReq.Header.Set("x-goog-api-key", auth.APIKey)
		httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)
	case accounts.AzureAuth:
		httpReq.Header.Set("api-key", auth.APIKey)
	case accounts.AWSAuth:
		httpReq.Header.Set("Authorization", "Bearer "+auth.CredsBlob)
	}
	return httpReq, nil
}

// authBaseURL returns the credential's configured base URL, "" when the
// family carries none.
func authBaseURL(auth accounts.AuthMaterial) string {
	switch a := auth.(type) {
	case accounts.APIKeyAuth:
		return a.BaseURL
	case accounts.AzureAuth:
		return a.BaseURL
	default:
		return ""
	}
}

// rebaseURL swaps rawURL's scheme and host for base's, keeping the
// original path and query, so an account-scoped baseUrl redirects the
// dialect's canonical route to the account's own endpoint. A malformed
// input leaves rawURL untouched.
func rebaseURL(rawURL, base string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimSuffix(base, "/") + u.RequestURI()
}

// relayStream flushes SSE headers immediately and pipes the upstream body
// through stream.Relay, reporting usage and marking the account used once
// the stream completes. A mid-stream upstream read error — headers already
// flushed by then — is coerced into the synthetic error/[DONE] block so
// the client never sees a bare connection drop.
func (d *Dispatcher) relayStream(ctx context.Context, w http.ResponseWriter, account *accounts.Account, req Request, resp *http.Response) {
	relay := stream.New(w, req.UnwrapSSEEnvelope, func(u stream.UsageReport) {
		d.reportUsage(account, req, u.PromptTokenCount, u.CandidatesTokenCount, u.ThinkingTokenCount)
	})
	relay.FlushHeaders()

	if err := relay.Run(ctx, resp.Body); err != nil && ctx.Err() == nil {
		log.WithError(err).WithField("account_id", account.ID).Warn("dispatch: stream relay ended with error")
		relay.WriteUpstreamError("upstream connection lost mid-stream", providererrors.TypeStreamError)
	}
}

// relayResponse strips thinking blocks and applies req.ResponseTransform (if
// set) to the upstream body, then writes and caches the result - so a
// cached entry always matches what the client actually received. Usage is
// parsed from whichever of the OpenAI/Anthropic "usage" or Gemini
// "usageMetadata" shapes is present before any dialect transform runs.
// cacheKey == "" when caching is disabled or the request was never
// eligible.
func (d *Dispatcher) relayResponse(ctx context.Context, w http.ResponseWriter, account *accounts.Account, req Request, resp *http.Response, cacheKey string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("dispatch: read upstream body: %w", err)
	}

	var thinkingTokens int64
	if provider := thinkingProviderFor(req.Dialect); provider != "" {
		thinkingTokens = d.Thinking.ThinkingTokens(body, provider)
		body = d.Thinking.StripThinking(body, provider)
	}

	input, output := extractNonStreamUsage(body)

	if req.ResponseTransform != nil {
		transformed, terr := req.ResponseTransform(body)
		if terr != nil {
			return fmt.Errorf("dispatch: response transform: %w", terr)
		}
		body = transformed
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)

	if cacheKey != "" && resp.StatusCode == http.StatusOK {
		d.Cache.Set(req.Model, cacheKey, body)
	}

	if input > 0 || output > 0 || thinkingTokens > 0 {
		d.reportUsage(account, req, input, output, thinkingTokens)
	}
	return nil
}

func (d *Dispatcher) reportUsage(account *accounts.Account, req Request, input, output, thinking int64) {
	ctx := context.Background()
	u := usage.Usage{
		Model:    req.Model,
		Input:    input,
		Output:   output,
		Thinking: thinking,
	}
	if d.Ledger != nil {
		if err := d.Ledger.Record(ctx, req.ApiKeyID, account.ID, u); err != nil {
			log.WithError(err).Warn("dispatch: usage ledger record failed")
		}
	}
	if d.Limiter != nil && req.ApiKeyID != "" {
		cost := 0.0
		if d.Ledger != nil {
			cost = d.Ledger.Cost(u)
		}
		windowTokens, windowCost, err := d.Limiter.RecordUsage(ctx, req.ApiKeyID, req.RateLimit, input+output+thinking, cost)
		if err != nil {
			log.WithError(err).Warn("dispatch: rate-limit window update failed")
		} else if windowTokens > 0 {
			log.WithFields(log.Fields{
				"api_key_id":    req.ApiKeyID,
				"window_tokens": windowTokens,
				"window_cost":   windowCost,
			}).Debug("dispatch: rate-limit window updated")
		}
	}
	d.Metrics.RecordTokens(req.Model, "prompt", input)
	d.Metrics.RecordTokens(req.Model, "completion", output)
	d.Metrics.RecordTokens(req.Model, "thinking", thinking)
	d.Archive.Record(usage.ArchiveRecord{
		ApiKeyID:       req.ApiKeyID,
		AccountID:      account.ID,
		Platform:       string(req.Platform),
		Model:          req.Model,
		InputTokens:    input,
		OutputTokens:   output,
		ThinkingTokens: thinking,
	})
}

// handleUpstreamError classifies a >=400 upstream response, transitions the
// account's state machine, and passes the upstream status and body through
// to the client. It only runs before any byte has been relayed (the >=400
// check precedes relayStream's FlushHeaders), so the real status is always
// still writable — a streaming request that fails here gets the plain
// 429/401/... JSON, not a synthetic 200 SSE stream. Mid-stream failures,
// where headers are already flushed, are handled inside stream.Relay
// (onCancel / WriteUpstreamError), which owns the flushed-state check.
func (d *Dispatcher) handleUpstreamError(ctx context.Context, w http.ResponseWriter, account *accounts.Account, req Request, resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	perr := providererrors.Classify(string(req.Platform), resp.StatusCode, body)

	sm, ok := d.StateMachines[req.Platform]
	if ok {
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			retryAfter := perr.RetryAfter
			if retryAfter <= 0 {
				retryAfter = time.Hour
			}
			_ = sm.ApplyRateLimit(ctx, account.ID, retryAfter)
		case http.StatusUnauthorized, http.StatusPaymentRequired:
			_ = sm.MarkUnauthorized(ctx, account, perr.Message)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(body)
}
