package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/axiomrelay/gateway/internal/accounts"
)

// PoolConfig bounds the shared connection pool underneath every upstream
// client the dispatcher hands out.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	ForceHTTP2          bool
}

// DefaultPoolConfig returns the defaults the gateway runs with when the
// performance section of the config file is absent.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceHTTP2:          true,
	}
}

// Pool hands out *http.Client values for dispatching to provider accounts.
// Transports are keyed by (platform, account, proxy) so an account with its
// own egress proxy never shares connections with direct traffic, while
// accounts of the same platform without a proxy reuse one keep-alive pool.
type Pool struct {
	mu         sync.RWMutex
	cfg        PoolConfig
	transports map[string]*http.Transport
}

// NewPool builds a Pool. The pool is a plain value owned by whoever wires
// the gateway together; there is no process-global instance.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MaxIdleConns <= 0 {
		cfg = DefaultPoolConfig()
	}
	return &Pool{cfg: cfg, transports: make(map[string]*http.Transport)}
}

// ClientFor returns a timeout-scoped client for the given account, routed
// through the account's proxy when one is configured.
func (p *Pool) ClientFor(a *accounts.Account, timeout time.Duration) *http.Client {
	key := string(a.Platform)
	proxyURL := ""
	if a.Proxy != nil && a.Proxy.Host != "" {
		proxyURL = formatProxyURL(a.Proxy)
		key = key + "|" + a.ID + "|" + proxyURL
	}
	return &http.Client{Transport: p.transportFor(key, proxyURL), Timeout: timeout}
}

func (p *Pool) transportFor(key, proxyURL string) *http.Transport {
	p.mu.RLock()
	t, ok := p.transports[key]
	p.mu.RUnlock()
	if ok {
		return t
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok = p.transports[key]; ok {
		return t
	}
	t = p.buildTransport(proxyURL)
	if t != nil {
		p.transports[key] = t
	}
	return t
}

func (p *Pool) buildTransport(proxyURL string) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          p.cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   p.cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       p.cfg.MaxConnsPerHost,
		IdleConnTimeout:       p.cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   p.cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     p.cfg.ForceHTTP2,
		// internal/transport negotiates and decodes Content-Encoding itself
		// (gzip/br/zstd, see DecodeBody); stdlib's gzip-only auto-decode is
		// disabled so there is exactly one decode point.
		DisableCompression: true,
		TLSClientConfig:    &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if proxyURL == "" {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		t.DialContext = dialer.DialContext
		return t
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		log.WithError(err).Warn("transport: invalid proxy URL, dispatching direct")
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		t.DialContext = dialer.DialContext
		return t
	}

	switch u.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		t.DialContext = dialer.DialContext
	case "socks5":
		var auth *proxy.Auth
		if u.User != nil {
			pw, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pw}
		}
		d, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			log.WithError(err).Warn("transport: socks5 dialer setup failed, dispatching direct")
			dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
			t.DialContext = dialer.DialContext
			return t
		}
		t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return d.Dial(network, addr)
		}
	default:
		log.Warnf("transport: unsupported proxy scheme %q, dispatching direct", u.Scheme)
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		t.DialContext = dialer.DialContext
	}
	return t
}

func formatProxyURL(cfg *accounts.ProxyConfig) string {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	auth := ""
	if cfg.Username != "" {
		auth = cfg.Username
		if cfg.Password != "" {
			auth += ":" + cfg.Password
		}
		auth += "@"
	}
	return fmt.Sprintf("%s://%s%s:%d", scheme, auth, cfg.Host, cfg.Port)
}

// CloseIdleConnections releases every pooled keep-alive connection; called
// on shutdown.
func (p *Pool) CloseIdleConnections() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.transports {
		t.CloseIdleConnections()
	}
}
