// Package cmd wires the gateway's components together and runs the HTTP
// server: config-driven subsystem init, then a signal-aware blocking run
// loop.
package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/axiomrelay/gateway/internal/accounts"
	"github.com/axiomrelay/gateway/internal/api"
	"github.com/axiomrelay/gateway/internal/apikey"
	"github.com/axiomrelay/gateway/internal/audit"
	"github.com/axiomrelay/gateway/internal/cache"
	"github.com/axiomrelay/gateway/internal/config"
	"github.com/axiomrelay/gateway/internal/costrank"
	"github.com/axiomrelay/gateway/internal/dispatch"
	"github.com/axiomrelay/gateway/internal/kvstore"
	"github.com/axiomrelay/gateway/internal/logging"
	"github.com/axiomrelay/gateway/internal/observability"
	"github.com/axiomrelay/gateway/internal/registry"
	"github.com/axiomrelay/gateway/internal/scheduler"
	"github.com/axiomrelay/gateway/internal/transport"
	"github.com/axiomrelay/gateway/internal/usage"
	"github.com/axiomrelay/gateway/internal/vault"
	"github.com/axiomrelay/gateway/internal/webhook"
)

// multiNotifier fans an account-status transition out to every notifier
// in the slice: the webhook notifier (external integrations), the admin
// live-view hub (push to connected dashboards) and the metrics collector
// currently.
type multiNotifier []accounts.Notifier

func (m multiNotifier) NotifyAccountStatus(ctx context.Context, accountID, accountName string, platform accounts.Platform, status accounts.Status, errorCode, reason string) {
	for _, n := range m {
		n.NotifyAccountStatus(ctx, accountID, accountName, platform, status, errorCode, reason)
	}
}

// metricsNotifier counts account state transitions in the Prometheus
// collector alongside the webhook and live-hub notifications.
type metricsNotifier struct {
	m *observability.Metrics
}

func (n metricsNotifier) NotifyAccountStatus(_ context.Context, _, _ string, platform accounts.Platform, status accounts.Status, _, _ string) {
	n.m.RecordAccountTransition(string(platform), string(status))
}

// buildMetrics maps the observability config section onto the Prometheus
// collector; a disabled section yields nil, which every consumer accepts.
func buildMetrics(cfg *config.Config) *observability.Metrics {
	mc := observability.DefaultConfig()
	mc.Enabled = cfg.Observability.Metrics.Enabled
	if cfg.Observability.Metrics.Path != "" {
		mc.Path = cfg.Observability.Metrics.Path
	}
	if cfg.Observability.Metrics.Namespace != "" {
		mc.Namespace = cfg.Observability.Metrics.Namespace
	}
	return observability.NewMetrics(mc)
}

// accountPlatforms enumerates every provider family the gateway schedules
// across: one Repository/GroupRepository/StateMachine per entry.
var accountPlatforms = []accounts.Platform{
	accounts.PlatformClaude,
	accounts.PlatformClaudeConsole,
	accounts.PlatformGemini,
	accounts.PlatformGeminiAPI,
	accounts.PlatformOpenAI,
	accounts.PlatformOpenAIResponses,
	accounts.PlatformAzureOpenAI,
	accounts.PlatformBedrock,
	accounts.PlatformDroid,
	accounts.PlatformCCR,
}

// buildResponseCache maps the cache and redis config sections onto the
// response cache. Returns nil when caching is disabled, which disables
// response caching in the dispatcher entirely.
func buildResponseCache(cfg *config.Config) *cache.ResponseCache {
	if !cfg.Cache.Enabled {
		return nil
	}
	cc := cache.DefaultConfig()
	if cfg.Cache.MaxEntries > 0 {
		cc.Capacity = cfg.Cache.MaxEntries
	}
	if cfg.Cache.DefaultTTLSeconds > 0 {
		cc.TTL = time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second
	}
	if cfg.Redis.Enabled {
		rc := &cache.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			Database:     cfg.Redis.Database,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			TTL:          cc.TTL,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			EnableTLS:    cfg.Redis.EnableTLS,
		}
		if rc.Address == "" {
			rc.Address = "localhost:6379"
		}
		if rc.KeyPrefix == "" {
			rc.KeyPrefix = "axiomrelay:"
		}
		if cfg.Redis.DefaultTTLSeconds > 0 {
			rc.TTL = time.Duration(cfg.Redis.DefaultTTLSeconds) * time.Second
		}
		if cfg.Redis.DialTimeoutMs > 0 {
			rc.DialTimeout = time.Duration(cfg.Redis.DialTimeoutMs) * time.Millisecond
		}
		if cfg.Redis.ReadTimeoutMs > 0 {
			rc.ReadTimeout = time.Duration(cfg.Redis.ReadTimeoutMs) * time.Millisecond
		}
		if cfg.Redis.WriteTimeoutMs > 0 {
			rc.WriteTimeout = time.Duration(cfg.Redis.WriteTimeoutMs) * time.Millisecond
		}
		cc.Redis = rc
	}
	return cache.NewResponseCache(cc)
}

// buildPoolConfig maps the performance section of the config file onto the
// outbound connection pool's knobs, keeping the defaults for anything unset.
func buildPoolConfig(cfg *config.Config) transport.PoolConfig {
	pc := transport.DefaultPoolConfig()
	if cfg.Performance.HTTPPool.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.Performance.HTTPPool.MaxIdleConns
	}
	if cfg.Performance.HTTPPool.MaxIdleConnsPerHost > 0 {
		pc.MaxIdleConnsPerHost = cfg.Performance.HTTPPool.MaxIdleConnsPerHost
	}
	if cfg.Performance.HTTPPool.MaxConnsPerHost > 0 {
		pc.MaxConnsPerHost = cfg.Performance.HTTPPool.MaxConnsPerHost
	}
	if cfg.Performance.HTTPPool.IdleConnTimeoutSeconds > 0 {
		pc.IdleConnTimeout = time.Duration(cfg.Performance.HTTPPool.IdleConnTimeoutSeconds) * time.Second
	}
	pc.ForceHTTP2 = cfg.Performance.HTTPPool.ForceHTTP2
	return pc
}

// buildKVStore constructs the Redis-backed kvstore.Store the account
// repositories, apikey repository, cost-rank index, and usage ledger all
// share, falling back to an in-memory store when Redis isn't configured so
// the gateway remains runnable in a single-process dev setup.
func buildKVStore(cfg *config.Config) kvstore.Store {
	if !cfg.Redis.Enabled {
		log.Warn("redis not enabled; using in-memory kvstore (state is not shared across instances and is lost on restart)")
		return kvstore.NewMemoryStore()
	}
	rc := kvstore.DefaultRedisConfig()
	rc.Address = cfg.Redis.Address
	rc.Password = cfg.Redis.Password
	rc.Database = cfg.Redis.Database
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	rc.EnableTLS = cfg.Redis.EnableTLS
	if cfg.Redis.MaxRetries > 0 {
		rc.MaxRetries = cfg.Redis.MaxRetries
	}
	return kvstore.NewRedisStore(rc)
}

// gateway bundles every long-lived subsystem StartService constructs, so
// shutdown can close/stop them in the reverse order of construction.
type gateway struct {
	kv         kvstore.Store
	notifier   *webhook.Notifier
	transport  *transport.Pool
	costRank   *costrank.Service
	dispatcher *dispatch.Dispatcher
	archive    *usage.Archive
	httpServer *http.Server
}

func buildGateway(cfg *config.Config, cacheSystem *cache.ResponseCache) (*gateway, error) {
	kv := buildKVStore(cfg)

	salt, err := hex.DecodeString(cfg.Vault.Salt)
	if err != nil {
		return nil, fmt.Errorf("vault: salt must be hex-encoded: %w", err)
	}
	v, err := vault.New(vault.Config{Passphrase: cfg.Vault.Passphrase, Salt: salt})
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	notifier := webhook.New(cfg.Webhook)

	prices := usage.NewPriceTable(nil)
	ledger := usage.NewLedger(kv, prices, cfg.Gateway.UsageTimezone)
	archive, err := usage.OpenArchive(context.Background(), cfg.UsageArchive, prices)
	if err != nil {
		log.WithError(err).Warn("usage archive unavailable, continuing without it")
		archive = nil
	}
	keys := apikey.NewRepository(kv)
	costRankSvc := costrank.New(cfg.CostRank, kv, ledger, keys, cfg.Gateway.UsageTimezone)
	liveHub := api.NewLiveHub(costRankSvc)

	metrics := buildMetrics(cfg)

	repos := make(map[accounts.Platform]*accounts.Repository, len(accountPlatforms))
	groups := make(map[accounts.Platform]*accounts.GroupRepository, len(accountPlatforms))
	sms := make(map[accounts.Platform]*accounts.StateMachine, len(accountPlatforms))
	for _, p := range accountPlatforms {
		repo := accounts.NewRepository(p, kv)
		repos[p] = repo
		groups[p] = accounts.NewGroupRepository(p, kv)
		sms[p] = accounts.NewStateMachine(repo, multiNotifier{notifier, liveHub, metricsNotifier{metrics}})
	}

	oauthClients := make(map[accounts.Platform]accounts.OAuthClientConfig, len(cfg.Accounts.OAuthClients))
	for platform, c := range cfg.Accounts.OAuthClients {
		oauthClients[accounts.Platform(platform)] = accounts.OAuthClientConfig{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
		}
	}

	sched := scheduler.New(scheduler.Config{
		KV:                          kv,
		Vault:                       v,
		OAuthClients:                oauthClients,
		Repositories:                repos,
		Groups:                      groups,
		StateMachines:               sms,
		GlobalSessionBindingEnabled: cfg.Accounts.GlobalSessionBindingEnabled,
		SessionBindingErrorMessage:  cfg.Accounts.SessionBindingErrorMessage,
	})

	tp := transport.NewPool(buildPoolConfig(cfg))

	dispatcher := dispatch.New(sched, v, tp, ledger, sms, cacheSystem, metrics, cfg.Thinking)
	dispatcher.Archive = archive
	if cfg.Gateway.RequestTimeoutSeconds > 0 {
		dispatcher.RequestTimeout = time.Duration(cfg.Gateway.RequestTimeoutSeconds) * time.Second
	}
	if cfg.Gateway.StreamTimeoutSeconds > 0 {
		dispatcher.StreamTimeout = time.Duration(cfg.Gateway.StreamTimeoutSeconds) * time.Second
	}

	limiter := apikey.NewRateLimiter(kv)
	gate := apikey.NewConcurrencyGate(kv)
	dispatcher.Limiter = limiter

	server := api.NewServer(api.Config{
		Keys:       keys,
		Limiter:    limiter,
		Gate:       gate,
		Dispatcher: dispatcher,
		Ledger:     ledger,
		CostRank:   costRankSvc,
		Models:     registry.Global(),
		Live:       liveHub,
		Metrics:    metrics,
		Trail:      audit.NewTrail(cfg.Audit),
		Debug:      cfg.Debug,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}

	return &gateway{
		kv:         kv,
		notifier:   notifier,
		transport:  tp,
		costRank:   costRankSvc,
		dispatcher: dispatcher,
		archive:    archive,
		httpServer: httpServer,
	}, nil
}

// StartService builds and runs the gateway's HTTP server. It sets up signal
// handling for graceful shutdown and blocks until a shutdown signal is
// received or the server errors out.
//
// Parameters:
//   - cfg: the application configuration
//   - configPath: the path to the configuration file; StartService does not
//     read it and starts no config.Watcher
//   - localPassword: unused by this gateway (retained for interface
//     compatibility with earlier single-tenant deployments)
func StartService(cfg *config.Config, configPath string, localPassword string) {
	if cfg.UseZapLogger {
		var zapErr error
		if cfg.LogFile.Path != "" {
			zapErr = logging.ZapWithRotation(cfg.LogFile.Path, cfg.LogFile.MaxSizeMB, cfg.LogFile.MaxBackups, cfg.LogFile.MaxAgeDays, cfg.Debug)
		} else {
			zapErr = logging.InitZapLoggerSimple(cfg.Debug)
		}
		if zapErr != nil {
			log.Warnf("failed to initialize zap logger: %v", zapErr)
		} else {
			log.Info("Zap structured logger initialized (high-performance mode)")
			defer logging.ZapSync()
		}
	}

	responseCache := buildResponseCache(cfg)
	if responseCache != nil {
		defer func() {
			if err := responseCache.Close(); err != nil {
				log.Warnf("failed to close response cache: %v", err)
			}
		}()
	}

	gw, err := buildGateway(cfg, responseCache)
	if err != nil {
		log.Errorf("failed to build gateway: %v", err)
		return
	}
	defer gw.notifier.Close()
	defer gw.transport.CloseIdleConnections()
	defer gw.archive.Close()

	ctxSignal, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw.costRank.Start(ctxSignal, cfg.CostRank)
	defer gw.costRank.Stop()

	gw.dispatcher.Admission.Start(ctxSignal, cfg.Gateway.AdmissionWorkers)
	defer gw.dispatcher.Admission.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("gateway listening on %s", gw.httpServer.Addr)
		errCh <- gw.httpServer.ListenAndServe()
	}()

	select {
	case <-ctxSignal.Done():
		log.Info("shutdown signal received, draining connections")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := gw.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("graceful shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("gateway server exited with error: %v", err)
		}
	}
}

// WaitForCloudDeploy waits indefinitely for shutdown signals in cloud deploy
// mode when no configuration file is available.
func WaitForCloudDeploy() {
	log.Info("Cloud deploy mode: No config found; standing by for configuration. API server is not started. Press Ctrl+C to exit.")

	ctxSignal, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctxSignal.Done()
	log.Info("Cloud deploy mode: Shutdown signal received; exiting")
}
