package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

// TokenClass distinguishes the priced components of one request's usage:
// providers bill cache reads/writes at a different rate than fresh input
// or generated output.
type TokenClass string

const (
	ClassInput       TokenClass = "input"
	ClassOutput      TokenClass = "output"
	ClassCacheCreate TokenClass = "cache_create"
	ClassCacheRead   TokenClass = "cache_read"
)

// Usage is one request's token counts, passed to Ledger.Record after the
// dispatcher or stream relay observes the upstream's usage block.
type Usage struct {
	Model        string
	Input        int64
	Output       int64
	CacheCreate  int64
	CacheRead    int64
	Thinking     int64
}

// Price is one model's rate in USD per 1000 tokens for each token class.
type Price struct {
	Input       float64
	Output      float64
	CacheCreate float64
	CacheRead   float64
	Thinking    float64
}

// PriceTable resolves a model name to its per-class pricing. Unknown models
// fall back to DefaultPrice so cost accounting degrades gracefully instead
// of panicking on a new upstream model the table hasn't been updated for.
type PriceTable struct {
	prices       map[string]Price
	DefaultPrice Price
}

// NewPriceTable builds a PriceTable from a model->Price map.
func NewPriceTable(prices map[string]Price) *PriceTable {
	return &PriceTable{prices: prices}
}

// CostUSD computes the dollar cost of u under this table.
func (t *PriceTable) CostUSD(u Usage) float64 {
	p, ok := t.prices[u.Model]
	if !ok {
		p = t.DefaultPrice
	}
	cost := float64(u.Input) / 1000 * p.Input
	cost += float64(u.Output) / 1000 * p.Output
	cost += float64(u.CacheCreate) / 1000 * p.CacheCreate
	cost += float64(u.CacheRead) / 1000 * p.CacheRead
	cost += float64(u.Thinking) / 1000 * p.Thinking
	return cost
}

// Ledger implements the KV-backed usage counters: atomic per-apiKey,
// per-account, and per-(apiKey,model) counters across three
// window dimensions (total / daily / monthly), bucketed in a configurable
// timezone so "today" matches the tenant's own clock rather than UTC.
type Ledger struct {
	kv     kvstore.Store
	prices *PriceTable
	loc    *time.Location
}

// NewLedger builds a Ledger. tz is the IANA location used for daily/monthly
// bucket boundaries; an empty string or a failed lookup falls back to UTC.
func NewLedger(kv kvstore.Store, prices *PriceTable, tz string) *Ledger {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return &Ledger{kv: kv, prices: prices, loc: loc}
}

// Cost prices u under the ledger's table. The dispatcher shares this with
// the rate-limit window updater so both see one cost derivation.
func (l *Ledger) Cost(u Usage) float64 { return l.prices.CostUSD(u) }

func (l *Ledger) windows(now time.Time) (total, daily, monthly string) {
	t := now.In(l.loc)
	return "total", "daily:" + t.Format("2006-01-02"), "monthly:" + t.Format("2006-01")
}

// Record increments the usage and cost counters for apiKeyID/accountID
// across all three window dimensions. It is called at most once per
// request, at stream end or immediately after a non-streaming response,
// matching stream.Relay's at-most-once usage-report guarantee.
func (l *Ledger) Record(ctx context.Context, apiKeyID, accountID string, u Usage) error {
	cost := l.prices.CostUSD(u)
	totalTokens := u.Input + u.Output + u.CacheCreate + u.CacheRead + u.Thinking
	now := time.Now()
	total, daily, monthly := l.windows(now)

	for _, window := range []string{total, daily, monthly} {
		if err := l.bump(ctx, l.apiKeyKey(apiKeyID, window), totalTokens, cost); err != nil {
			return fmt.Errorf("usage: record apikey window %s: %w", window, err)
		}
		if accountID != "" {
			if err := l.bump(ctx, l.accountKey(accountID, window), totalTokens, cost); err != nil {
				return fmt.Errorf("usage: record account window %s: %w", window, err)
			}
		}
		if u.Model != "" {
			if err := l.bump(ctx, l.apiKeyModelKey(apiKeyID, u.Model, window), totalTokens, cost); err != nil {
				return fmt.Errorf("usage: record apikey/model window %s: %w", window, err)
			}
		}
	}
	return nil
}

func (l *Ledger) bump(ctx context.Context, key string, tokens int64, costUSD float64) error {
	if _, err := l.kv.HIncrBy(ctx, key, "requests", 1); err != nil {
		return err
	}
	if _, err := l.kv.HIncrBy(ctx, key, "tokens", tokens); err != nil {
		return err
	}
	// Cost is accumulated in micro-dollars (1e-6 USD) so the KV hash field
	// stays an integer counter instead of needing a float CAS loop.
	microUSD := int64(costUSD * 1_000_000)
	_, err := l.kv.HIncrBy(ctx, key, "cost_micro_usd", microUSD)
	return err
}

func (l *Ledger) apiKeyKey(apiKeyID, window string) string {
	return fmt.Sprintf("usage:apikey:%s:%s", apiKeyID, window)
}

func (l *Ledger) accountKey(accountID, window string) string {
	return fmt.Sprintf("usage:account:%s:%s", accountID, window)
}

func (l *Ledger) apiKeyModelKey(apiKeyID, model, window string) string {
	return fmt.Sprintf("usage:apikey_model:%s:%s:%s", apiKeyID, model, window)
}

// Totals is a read view of one ledger bucket.
type Totals struct {
	Requests int64
	Tokens   int64
	CostUSD  float64
}

// ApiKeyTotals reads the accumulated totals for apiKeyID in the given
// window ("total", "daily:2026-07-31", or "monthly:2026-07").
func (l *Ledger) ApiKeyTotals(ctx context.Context, apiKeyID, window string) (Totals, error) {
	return l.readTotals(ctx, l.apiKeyKey(apiKeyID, window))
}

// TodayTotals is a convenience wrapper around ApiKeyTotals for the "today"
// bucket under the ledger's configured timezone, used by the auth
// middleware to enforce ApiKey.DailyCostLimitUSD before admitting a
// request and by the /usage reporting handler.
func (l *Ledger) TodayTotals(ctx context.Context, apiKeyID string) (Totals, error) {
	_, daily, _ := l.windows(time.Now())
	return l.ApiKeyTotals(ctx, apiKeyID, daily)
}

func (l *Ledger) readTotals(ctx context.Context, key string) (Totals, error) {
	fields, err := l.kv.HGetAll(ctx, key)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return Totals{}, nil
		}
		return Totals{}, err
	}
	var t Totals
	var microUSD int64
	fmt.Sscanf(fields["requests"], "%d", &t.Requests)
	fmt.Sscanf(fields["tokens"], "%d", &t.Tokens)
	fmt.Sscanf(fields["cost_micro_usd"], "%d", &microUSD)
	t.CostUSD = float64(microUSD) / 1_000_000
	return t, nil
}
