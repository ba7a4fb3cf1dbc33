// Package webhook implements the gateway's outbound account-status
// notifications: a buffered, fire-and-forget delivery queue that POSTs a
// small JSON payload whenever an account enters unauthorized/paused state
// or returns to active from any non-active state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/axiomrelay/gateway/internal/accounts"
	"github.com/axiomrelay/gateway/internal/config"
)

// Payload is the JSON body POSTed to the configured webhook URL.
type Payload struct {
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	Platform    string `json:"platform"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// Notifier delivers account-status payloads to a configured HTTP endpoint.
// It satisfies accounts.Notifier. Delivery is buffered and asynchronous: a
// full buffer drops the oldest pending notification rather than blocking
// the state machine, since a missed webhook call is recoverable (the admin
// can always poll account status) but a blocked dispatch path is not.
type Notifier struct {
	url        string
	maxRetries int
	client     *http.Client

	queue chan Payload
	done  chan struct{}
}

// New builds a Notifier from cfg. If cfg.URL is empty, NotifyAccountStatus
// becomes a no-op, the same config-gated-optional-subsystem pattern used by
// cfg.UsageArchive.Enabled in internal/cmd/run.go.
func New(cfg config.WebhookConfig) *Notifier {
	bufSize := cfg.BufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	n := &Notifier{
		url:        cfg.URL,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
		queue:      make(chan Payload, bufSize),
		done:       make(chan struct{}),
	}
	if n.url != "" {
		go n.worker()
	}
	return n
}

// NotifyAccountStatus implements accounts.Notifier. It never blocks: the
// payload is enqueued and delivered by the background worker.
func (n *Notifier) NotifyAccountStatus(ctx context.Context, accountID, accountName string, platform accounts.Platform, status accounts.Status, errorCode, reason string) {
	if n.url == "" {
		return
	}
	p := Payload{
		AccountID:   accountID,
		AccountName: accountName,
		Platform:    string(platform),
		Status:      string(status),
		ErrorCode:   errorCode,
		Reason:      reason,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case n.queue <- p:
	default:
		select {
		case <-n.queue:
		default:
		}
		select {
		case n.queue <- p:
		default:
			log.Warn("webhook: queue full, dropping notification")
		}
	}
}

func (n *Notifier) worker() {
	for {
		select {
		case p := <-n.queue:
			n.deliver(p)
		case <-n.done:
			return
		}
	}
}

func (n *Notifier) deliver(p Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		log.WithError(err).Warn("webhook: marshal failed")
		return
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
		req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		lastErr = fmt.Errorf("webhook: upstream returned %d", resp.StatusCode)
	}
	log.WithError(lastErr).WithField("account_id", p.AccountID).Warn("webhook: delivery failed after retries")
}

// Close stops the delivery worker.
func (n *Notifier) Close() {
	if n.url == "" {
		return
	}
	close(n.done)
}
