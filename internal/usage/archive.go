package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// ArchiveConfig configures the optional PostgreSQL usage archive. The
// Redis-backed ledger remains the billing source of truth; the archive
// keeps per-request rows for offline analysis and reconciliation.
type ArchiveConfig struct {
	Enabled              bool   `yaml:"enabled" json:"enabled"`
	DSN                  string `yaml:"dsn" json:"dsn"`
	BatchSize            int    `yaml:"batch-size,omitempty" json:"batch_size,omitempty"`
	FlushIntervalSeconds int    `yaml:"flush-interval-seconds,omitempty" json:"flush_interval_seconds,omitempty"`
	RetentionDays        int    `yaml:"retention-days,omitempty" json:"retention_days,omitempty"`
}

// ArchiveRecord is one relayed request's metered usage.
type ArchiveRecord struct {
	Time           time.Time
	ApiKeyID       string
	AccountID      string
	Platform       string
	Model          string
	InputTokens    int64
	OutputTokens   int64
	ThinkingTokens int64
	CostUSD        float64
}

// Archive batches usage rows into PostgreSQL. Record never blocks the
// dispatch path: rows buffer in memory and flush on a timer or when the
// batch fills. All methods are nil-receiver safe, so an unconfigured
// archive needs no guards at call sites.
type Archive struct {
	cfg    ArchiveConfig
	pool   *pgxpool.Pool
	prices *PriceTable

	mu     sync.Mutex
	buffer []ArchiveRecord

	stop chan struct{}
	wg   sync.WaitGroup
}

// OpenArchive connects, ensures the schema, and starts the flush loop.
// Returns nil (no error) when the archive is disabled.
func OpenArchive(ctx context.Context, cfg ArchiveConfig, prices *PriceTable) (*Archive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushIntervalSeconds <= 0 {
		cfg.FlushIntervalSeconds = 10
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("usage archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("usage archive: connect: %w", err)
	}

	a := &Archive{
		cfg:    cfg,
		pool:   pool,
		prices: prices,
		buffer: make([]ArchiveRecord, 0, cfg.BatchSize),
		stop:   make(chan struct{}),
	}
	if err := a.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	a.wg.Add(1)
	go a.flushLoop()
	return a, nil
}

func (a *Archive) initSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS relay_usage (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	api_key_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	thinking_tokens BIGINT NOT NULL DEFAULT 0,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS relay_usage_key_ts ON relay_usage (api_key_id, ts);
CREATE INDEX IF NOT EXISTS relay_usage_account_ts ON relay_usage (account_id, ts);`
	if _, err := a.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("usage archive: init schema: %w", err)
	}
	return nil
}

// Record buffers one row, deriving cost from the price table when the
// caller left it zero.
func (a *Archive) Record(rec ArchiveRecord) {
	if a == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if rec.CostUSD == 0 && a.prices != nil {
		rec.CostUSD = a.prices.CostUSD(Usage{
			Model:    rec.Model,
			Input:    rec.InputTokens,
			Output:   rec.OutputTokens,
			Thinking: rec.ThinkingTokens,
		})
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, rec)
	full := len(a.buffer) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		go a.flush()
	}
}

func (a *Archive) flushLoop() {
	defer a.wg.Done()
	flushTick := time.NewTicker(time.Duration(a.cfg.FlushIntervalSeconds) * time.Second)
	defer flushTick.Stop()
	pruneTick := time.NewTicker(6 * time.Hour)
	defer pruneTick.Stop()

	for {
		select {
		case <-a.stop:
			a.flush()
			return
		case <-flushTick.C:
			a.flush()
		case <-pruneTick.C:
			a.prune()
		}
	}
}

func (a *Archive) flush() {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	rows := a.buffer
	a.buffer = make([]ArchiveRecord, 0, a.cfg.BatchSize)
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`INSERT INTO relay_usage
			(ts, api_key_id, account_id, platform, model, input_tokens, output_tokens, thinking_tokens, cost_usd)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			r.Time, r.ApiKeyID, r.AccountID, r.Platform, r.Model,
			r.InputTokens, r.OutputTokens, r.ThinkingTokens, r.CostUSD)
	}
	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		log.WithError(err).Warnf("usage archive: flush of %d rows failed", len(rows))
	}
}

func (a *Archive) prune() {
	if a.cfg.RetentionDays <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().AddDate(0, 0, -a.cfg.RetentionDays)
	if _, err := a.pool.Exec(ctx, `DELETE FROM relay_usage WHERE ts < $1`, cutoff); err != nil {
		log.WithError(err).Warn("usage archive: prune failed")
	}
}

// Close flushes the remaining buffer and releases the pool.
func (a *Archive) Close() {
	if a == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.pool.Close()
}
