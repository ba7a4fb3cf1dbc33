// Package audit keeps a bounded in-memory trail of relayed requests for
// the admin surface: who called, which platform and model it went to, what
// came back, and how long it took. Request and response bodies are never
// retained.
package audit

import (
	"strconv"
	"sync"
	"time"
)

// Entry is one relayed request's audit record.
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	ApiKeyID  string    `json:"apiKeyId,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	Model     string    `json:"model,omitempty"`
	Path      string    `json:"path"`
	Method    string    `json:"method"`
	Status    int       `json:"status"`
	LatencyMs int64     `json:"latencyMs"`
	Streaming bool      `json:"streaming"`
	ClientIP  string    `json:"clientIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Config bounds the trail.
type Config struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	MaxEntries     int  `yaml:"max-entries,omitempty" json:"max_entries,omitempty"`
	RetentionHours int  `yaml:"retention-hours,omitempty" json:"retention_hours,omitempty"`
}

// DefaultConfig keeps 24 hours or 10k entries, whichever trims first.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxEntries: 10000, RetentionHours: 24}
}

// Trail is the bounded audit buffer. It is an explicit value wired into
// the middleware and admin routes; there is no process-global instance.
type Trail struct {
	mu      sync.RWMutex
	cfg     Config
	entries []Entry
	seq     uint64
}

// NewTrail builds a trail; a disabled config yields a trail whose Record
// is a no-op, so callers need no guards.
func NewTrail(cfg Config) *Trail {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	return &Trail{cfg: cfg, entries: make([]Entry, 0, 256)}
}

// Record appends one entry, pruning expired and overflow entries inline so
// no background sweeper is needed.
func (t *Trail) Record(e Entry) {
	if !t.cfg.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	t.seq++
	e.ID = e.Time.UTC().Format("20060102T150405") + "-" + strconv.FormatUint(t.seq, 36)

	if t.cfg.RetentionHours > 0 {
		cutoff := time.Now().Add(-time.Duration(t.cfg.RetentionHours) * time.Hour)
		firstLive := 0
		for firstLive < len(t.entries) && t.entries[firstLive].Time.Before(cutoff) {
			firstLive++
		}
		if firstLive > 0 {
			t.entries = append(t.entries[:0], t.entries[firstLive:]...)
		}
	}
	if len(t.entries) >= t.cfg.MaxEntries {
		drop := t.cfg.MaxEntries / 10
		if drop < 1 {
			drop = 1
		}
		t.entries = append(t.entries[:0], t.entries[drop:]...)
	}
	t.entries = append(t.entries, e)
}

// Recent returns up to limit entries, newest first.
func (t *Trail) Recent(limit int) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit <= 0 || limit > len(t.entries) {
		limit = len(t.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(t.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.entries[i])
	}
	return out
}

// Len reports the number of retained entries.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
