package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/axiomrelay/gateway/internal/audit"
)

// Load reads path as YAML into a Config, applying a .env overlay first via
// godotenv: env file loaded before the main config so ${VAR}-style values
// are not needed, plain env vars set by .env are simply present in the
// process environment by the time YAML unmarshalling runs.
func Load(path string) (*Config, error) {
	envPath := path + ".env"
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.WithError(err).Warn("config: failed to load .env overlay")
		}
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8317
	}
	if cfg.Accounts.DefaultRateLimitDurationMinutes == 0 {
		cfg.Accounts.DefaultRateLimitDurationMinutes = 60
	}
	if cfg.CostRank.LockTTLSeconds == 0 {
		cfg.CostRank.LockTTLSeconds = 300
	}
	if cfg.CostRank.BatchSize == 0 {
		cfg.CostRank.BatchSize = 100
	}
	if cfg.CostRank.TodayIntervalSeconds == 0 {
		cfg.CostRank.TodayIntervalSeconds = 600
	}
	if cfg.CostRank.SevenDayIntervalSeconds == 0 {
		cfg.CostRank.SevenDayIntervalSeconds = 1800
	}
	if cfg.CostRank.ThirtyDayIntervalSeconds == 0 {
		cfg.CostRank.ThirtyDayIntervalSeconds = 3600
	}
	if cfg.CostRank.AllIntervalSeconds == 0 {
		cfg.CostRank.AllIntervalSeconds = 7200
	}
	if cfg.Webhook.MaxRetries == 0 {
		cfg.Webhook.MaxRetries = 3
	}
	if cfg.Webhook.BufferSize == 0 {
		cfg.Webhook.BufferSize = 256
	}
	if cfg.Webhook.TimeoutSeconds == 0 {
		cfg.Webhook.TimeoutSeconds = 10
	}
	if cfg.Gateway.StreamTimeoutSeconds == 0 {
		cfg.Gateway.StreamTimeoutSeconds = 600
	}
	if cfg.Gateway.RequestTimeoutSeconds == 0 {
		cfg.Gateway.RequestTimeoutSeconds = 120
	}
	if cfg.Gateway.AdmissionWorkers == 0 {
		cfg.Gateway.AdmissionWorkers = 32
	}
	if cfg.Audit.MaxEntries == 0 {
		cfg.Audit.MaxEntries = audit.DefaultConfig().MaxEntries
	}
	if cfg.Audit.RetentionHours == 0 {
		cfg.Audit.RetentionHours = audit.DefaultConfig().RetentionHours
	}
}

// Watcher reloads a Config from path whenever the file changes on disk.
// Callers get a best-effort "config changed" notification rather than a
// guaranteed diff, and a failed reload logs and keeps serving the prior
// config.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu  sync.RWMutex
	cur *Config
}

// NewWatcher starts watching path, which must already have been loaded via
// Load (its result is the Watcher's initial value).
func NewWatcher(path string, initial *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{path: path, fsw: fsw, cur: initial}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.WithError(err).Warn("config: reload failed, keeping previous config")
				continue
			}
			w.mu.Lock()
			w.cur = cfg
			w.mu.Unlock()
			log.Info("config: reloaded from disk")
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config: watcher error")
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
