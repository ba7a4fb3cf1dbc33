package transport

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/axiomrelay/gateway/internal/accounts"
)

func TestFormatProxyURLWithCredentials(t *testing.T) {
	cfg := &accounts.ProxyConfig{Scheme: "socks5", Host: "proxy.internal", Port: 1080, Username: "u", Password: "p"}
	got := formatProxyURL(cfg)
	want := "socks5://u:p@proxy.internal:1080"
	if got != want {
		t.Fatalf("formatProxyURL = %q, want %q", got, want)
	}
}

func TestFormatProxyURLDefaultsToHTTPScheme(t *testing.T) {
	cfg := &accounts.ProxyConfig{Host: "proxy.internal", Port: 8080}
	got := formatProxyURL(cfg)
	want := "http://proxy.internal:8080"
	if got != want {
		t.Fatalf("formatProxyURL = %q, want %q", got, want)
	}
}

func TestClientForDirectWhenNoProxyConfigured(t *testing.T) {
	p := NewPool(DefaultPoolConfig())
	a := &accounts.Account{ID: "acct-1", Platform: accounts.PlatformClaude}
	c := p.ClientFor(a, DefaultRequestTimeout)
	if c == nil {
		t.Fatalf("ClientFor returned nil client")
	}
	if c.Timeout != DefaultRequestTimeout {
		t.Fatalf("client timeout = %v, want %v", c.Timeout, DefaultRequestTimeout)
	}
}

func TestPoolReusesTransportPerPlatform(t *testing.T) {
	p := NewPool(DefaultPoolConfig())
	a := &accounts.Account{ID: "acct-1", Platform: accounts.PlatformGemini}
	b := &accounts.Account{ID: "acct-2", Platform: accounts.PlatformGemini}
	if p.ClientFor(a, time.Second).Transport != p.ClientFor(b, time.Second).Transport {
		t.Fatalf("expected proxyless accounts of one platform to share a transport")
	}
}

func TestPoolIsolatesProxiedAccounts(t *testing.T) {
	p := NewPool(DefaultPoolConfig())
	direct := &accounts.Account{ID: "acct-1", Platform: accounts.PlatformGemini}
	proxied := &accounts.Account{
		ID:       "acct-2",
		Platform: accounts.PlatformGemini,
		Proxy:    &accounts.ProxyConfig{Scheme: "http", Host: "proxy.internal", Port: 8080},
	}
	if p.ClientFor(direct, time.Second).Transport == p.ClientFor(proxied, time.Second).Transport {
		t.Fatalf("expected proxied account to get its own transport")
	}
}

func TestDecodeBodyPassesThroughIdentity(t *testing.T) {
	resp := &http.Response{Header: http.Header{}, Body: io.NopCloser(bytes.NewReader([]byte("plain")))}
	rc, err := DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "plain" {
		t.Fatalf("got %q, want plain", got)
	}
}

func TestDecodeBodyGzip(t *testing.T) {
	var buf bytes.Buffer
	gw := kgzip.NewWriter(&buf)
	gw.Write([]byte("hello gzip"))
	gw.Close()

	resp := &http.Response{Header: http.Header{"Content-Encoding": []string{"gzip"}}, Body: io.NopCloser(bytes.NewReader(buf.Bytes()))}
	rc, err := DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello gzip" {
		t.Fatalf("got %q, want %q", got, "hello gzip")
	}
	if resp.Header.Get("Content-Encoding") != "" {
		t.Fatalf("expected Content-Encoding to be stripped after decode")
	}
}

func TestDecodeBodyBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write([]byte("hello brotli"))
	bw.Close()

	resp := &http.Response{Header: http.Header{"Content-Encoding": []string{"br"}}, Body: io.NopCloser(bytes.NewReader(buf.Bytes()))}
	rc, err := DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello brotli" {
		t.Fatalf("got %q, want %q", got, "hello brotli")
	}
}

func TestDecodeBodyZstd(t *testing.T) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	zw.Write([]byte("hello zstd"))
	zw.Close()

	resp := &http.Response{Header: http.Header{"Content-Encoding": []string{"zstd"}}, Body: io.NopCloser(bytes.NewReader(buf.Bytes()))}
	rc, err := DecodeBody(resp)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello zstd" {
		t.Fatalf("got %q, want %q", got, "hello zstd")
	}
}
