package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axiomrelay/gateway/internal/accounts"
	"github.com/axiomrelay/gateway/internal/config"
)

func TestNotifyAccountStatusDeliversPayload(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL, BufferSize: 4, MaxRetries: 1, TimeoutSeconds: 2})
	defer n.Close()

	n.NotifyAccountStatus(context.Background(), "acct-1", "My Account", accounts.PlatformGemini, accounts.StatusUnauthorized, "unauthorized", "bad token")

	select {
	case p := <-received:
		if p.AccountID != "acct-1" || p.Status != string(accounts.StatusUnauthorized) || p.Reason != "bad token" {
			t.Fatalf("unexpected payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
}

func TestNotifyAccountStatusNoopWhenURLEmpty(t *testing.T) {
	n := New(config.WebhookConfig{})
	defer n.Close()
	n.NotifyAccountStatus(context.Background(), "acct-1", "name", accounts.PlatformGemini, accounts.StatusActive, "", "")
}

func TestCloseIsSafeWhenURLEmpty(t *testing.T) {
	n := New(config.WebhookConfig{})
	n.Close()
}
