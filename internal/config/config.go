// Package config loads and watches the gateway's YAML configuration file.
package config

import (
	"github.com/axiomrelay/gateway/internal/audit"
	"github.com/axiomrelay/gateway/internal/dialect"
	"github.com/axiomrelay/gateway/internal/usage"
)

// Config is the gateway's top-level configuration, one YAML document per
// deployment. Sections owned by a subsystem (usage archive, thinking,
// audit) embed that subsystem's own config type so the knobs live next to
// the code that reads them.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// Debug switches gin into debug mode and lowers log levels.
	Debug bool `yaml:"debug,omitempty" json:"debug,omitempty"`

	// UseZapLogger opts into the zap structured logger (logrus remains
	// the default).
	UseZapLogger bool `yaml:"use-zap-logger,omitempty" json:"use_zap_logger,omitempty"`

	// LogFile enables file output with rotation when Path is set.
	LogFile LogFileConfig `yaml:"log-file,omitempty" json:"log_file,omitempty"`

	// Redis backs the kvstore (account records, apiKeys, sessions,
	// counters, cost ranks) and the response cache's second level.
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// Cache sizes the non-streaming response cache.
	Cache CacheConfig `yaml:"cache,omitempty" json:"cache,omitempty"`

	// Performance tunes the outbound connection pool.
	Performance PerformanceConfig `yaml:"performance,omitempty" json:"performance,omitempty"`

	// Observability controls the Prometheus scrape endpoint.
	Observability ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`

	// Vault derives the credential-encryption key.
	Vault VaultConfig `yaml:"vault,omitempty" json:"vault,omitempty"`

	// Accounts holds provider-account scheduling policy and the OAuth
	// client registrations used for lazy token refresh.
	Accounts AccountsConfig `yaml:"accounts,omitempty" json:"accounts,omitempty"`

	// CostRank drives the leaderboard refresh timers.
	CostRank CostRankConfig `yaml:"cost-rank,omitempty" json:"cost_rank,omitempty"`

	// Webhook receives account state-transition notifications.
	Webhook WebhookConfig `yaml:"webhook,omitempty" json:"webhook,omitempty"`

	// Gateway holds cross-cutting relay settings.
	Gateway GatewayConfig `yaml:"gateway,omitempty" json:"gateway,omitempty"`

	// UsageArchive persists per-request usage rows to PostgreSQL.
	UsageArchive usage.ArchiveConfig `yaml:"usage-archive,omitempty" json:"usage_archive,omitempty"`

	// Thinking controls extended-thinking stripping on responses.
	Thinking dialect.ThinkingConfig `yaml:"thinking,omitempty" json:"thinking,omitempty"`

	// Audit bounds the in-memory request trail behind /admin/audit.
	Audit audit.Config `yaml:"audit,omitempty" json:"audit,omitempty"`
}

// LogFileConfig configures rotated file logging.
type LogFileConfig struct {
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	MaxSizeMB  int    `yaml:"max-size-mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty" json:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max-age-days,omitempty" json:"max_age_days,omitempty"`
}

// RedisConfig dials the shared Redis instance.
type RedisConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	Address           string `yaml:"address,omitempty" json:"address,omitempty"`
	Password          string `yaml:"password,omitempty" json:"password,omitempty"`
	Database          int    `yaml:"database,omitempty" json:"database,omitempty"`
	KeyPrefix         string `yaml:"key-prefix,omitempty" json:"key_prefix,omitempty"`
	DefaultTTLSeconds int    `yaml:"default-ttl-seconds,omitempty" json:"default_ttl_seconds,omitempty"`
	PoolSize          int    `yaml:"pool-size,omitempty" json:"pool_size,omitempty"`
	DialTimeoutMs     int    `yaml:"dial-timeout-ms,omitempty" json:"dial_timeout_ms,omitempty"`
	ReadTimeoutMs     int    `yaml:"read-timeout-ms,omitempty" json:"read_timeout_ms,omitempty"`
	WriteTimeoutMs    int    `yaml:"write-timeout-ms,omitempty" json:"write_timeout_ms,omitempty"`
	EnableTLS         bool   `yaml:"enable-tls,omitempty" json:"enable_tls,omitempty"`
	MaxRetries        int    `yaml:"max-retries,omitempty" json:"max_retries,omitempty"`
}

// CacheConfig sizes the response cache.
type CacheConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	MaxEntries        int  `yaml:"max-entries,omitempty" json:"max_entries,omitempty"`
	DefaultTTLSeconds int  `yaml:"default-ttl-seconds,omitempty" json:"default_ttl_seconds,omitempty"`
}

// PerformanceConfig tunes the transport pool.
type PerformanceConfig struct {
	HTTPPool HTTPPoolConfig `yaml:"http-pool,omitempty" json:"http_pool,omitempty"`
}

// HTTPPoolConfig mirrors transport.PoolConfig in YAML form.
type HTTPPoolConfig struct {
	MaxIdleConns           int  `yaml:"max-idle-conns,omitempty" json:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost    int  `yaml:"max-idle-conns-per-host,omitempty" json:"max_idle_conns_per_host,omitempty"`
	MaxConnsPerHost        int  `yaml:"max-conns-per-host,omitempty" json:"max_conns_per_host,omitempty"`
	IdleConnTimeoutSeconds int  `yaml:"idle-conn-timeout-seconds,omitempty" json:"idle_conn_timeout_seconds,omitempty"`
	ForceHTTP2             bool `yaml:"force-http2,omitempty" json:"force_http2,omitempty"`
}

// ObservabilityConfig controls metrics exposure.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// MetricsConfig maps onto observability.Config.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// VaultConfig derives the AES key for credential encryption. Salt is
// hex-encoded and must stay stable across restarts.
type VaultConfig struct {
	Passphrase string `yaml:"passphrase" json:"passphrase"`
	Salt       string `yaml:"salt" json:"salt"`
}

// OAuthClientConfig registers one platform's OAuth client for refresh
// grants.
type OAuthClientConfig struct {
	ClientID     string `yaml:"client-id" json:"client_id"`
	ClientSecret string `yaml:"client-secret,omitempty" json:"client_secret,omitempty"`
	TokenURL     string `yaml:"token-url" json:"token_url"`
}

// AccountsConfig holds account-pool policy.
type AccountsConfig struct {
	// DefaultRateLimitDurationMinutes is loaded (default 60) but the
	// dispatcher does not read it: an upstream 429 that carries no reset
	// hint rate-limits the account for a fixed hour.
	DefaultRateLimitDurationMinutes int `yaml:"default-rate-limit-duration-minutes,omitempty" json:"default_rate_limit_duration_minutes,omitempty"`

	// GlobalSessionBindingEnabled turns on the claude-official
	// original-session binding mode.
	GlobalSessionBindingEnabled bool `yaml:"global-session-binding-enabled,omitempty" json:"global_session_binding_enabled,omitempty"`

	// SessionBindingErrorMessage is returned to clients whose bound
	// account has become unusable.
	SessionBindingErrorMessage string `yaml:"session-binding-error-message,omitempty" json:"session_binding_error_message,omitempty"`

	// OAuthClients is keyed by platform name (claude, gemini, openai).
	OAuthClients map[string]OAuthClientConfig `yaml:"oauth-clients,omitempty" json:"oauth_clients,omitempty"`
}

// CostRankConfig drives the leaderboard refresh cadence.
type CostRankConfig struct {
	Enabled                  bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TodayIntervalSeconds     int  `yaml:"today-interval-seconds,omitempty" json:"today_interval_seconds,omitempty"`
	SevenDayIntervalSeconds  int  `yaml:"seven-day-interval-seconds,omitempty" json:"seven_day_interval_seconds,omitempty"`
	ThirtyDayIntervalSeconds int  `yaml:"thirty-day-interval-seconds,omitempty" json:"thirty_day_interval_seconds,omitempty"`
	AllIntervalSeconds       int  `yaml:"all-interval-seconds,omitempty" json:"all_interval_seconds,omitempty"`
	LockTTLSeconds           int  `yaml:"lock-ttl-seconds,omitempty" json:"lock_ttl_seconds,omitempty"`
	BatchSize                int  `yaml:"batch-size,omitempty" json:"batch_size,omitempty"`
}

// WebhookConfig points at the anomaly/recovery notification receiver. An
// empty URL disables delivery.
type WebhookConfig struct {
	URL            string `yaml:"url,omitempty" json:"url,omitempty"`
	MaxRetries     int    `yaml:"max-retries,omitempty" json:"max_retries,omitempty"`
	BufferSize     int    `yaml:"buffer-size,omitempty" json:"buffer_size,omitempty"`
	TimeoutSeconds int    `yaml:"timeout-seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// GatewayConfig holds cross-cutting relay settings.
type GatewayConfig struct {
	// UsageTimezone fixes daily/monthly bucket boundaries (IANA name;
	// default Asia/Shanghai so "today" is stable across hosts).
	UsageTimezone string `yaml:"usage-timezone,omitempty" json:"usage_timezone,omitempty"`

	StreamTimeoutSeconds  int `yaml:"stream-timeout-seconds,omitempty" json:"stream_timeout_seconds,omitempty"`
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request_timeout_seconds,omitempty"`

	// AdmissionWorkers bounds concurrent dispatches across all apiKeys.
	AdmissionWorkers int `yaml:"admission-workers,omitempty" json:"admission_workers,omitempty"`
}
