package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/axiomrelay/gateway/internal/accounts"
	"github.com/axiomrelay/gateway/internal/costrank"
)

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveHub maintains the admin dashboard's WebSocket connections and pushes
// account-status transitions (as they happen) and a periodic cost-rank
// leaderboard snapshot. It implements accounts.Notifier directly so it can
// sit alongside internal/webhook.Notifier as a second state-machine
// listener without either depending on the other.
type LiveHub struct {
	clients    map[*liveClient]bool
	register   chan *liveClient
	unregister chan *liveClient
	mu         sync.RWMutex

	costRank *costrank.Service

	recent   []AccountStatusEvent
	recentMu sync.RWMutex
}

type liveClient struct {
	hub  *LiveHub
	conn *websocket.Conn
	send chan []byte
}

// AccountStatusEvent is one account-state transition pushed to connected
// dashboards.
type AccountStatusEvent struct {
	Timestamp int64            `json:"timestamp"`
	AccountID string           `json:"account_id"`
	Platform  accounts.Platform `json:"platform"`
	Status    accounts.Status  `json:"status"`
	ErrorCode string           `json:"error_code,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// liveSnapshot is the periodic broadcast payload: the recent account-status
// feed plus today's cost-rank leaderboard.
type liveSnapshot struct {
	RecentAccountEvents []AccountStatusEvent `json:"recent_account_events"`
	CostRankToday       []costrank.Entry     `json:"cost_rank_today,omitempty"`
}

// NewLiveHub builds a hub and starts its broadcast loop. costRank may be
// nil, omitting the leaderboard from every snapshot.
func NewLiveHub(costRank *costrank.Service) *LiveHub {
	h := &LiveHub{
		clients:    make(map[*liveClient]bool),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		costRank:   costRank,
		recent:     make([]AccountStatusEvent, 0, 50),
	}
	go h.run()
	return h
}

func (h *LiveHub) run() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case <-ticker.C:
			h.broadcastSnapshot()
		}
	}
}

func (h *LiveHub) broadcastSnapshot() {
	h.mu.RLock()
	clientCount := len(h.clients)
	h.mu.RUnlock()
	if clientCount == 0 {
		return
	}

	snap := liveSnapshot{RecentAccountEvents: h.recentEvents()}
	if h.costRank != nil {
		if top, err := h.costRank.Top(context.Background(), costrank.WindowToday, 10); err == nil {
			snap.CostRankToday = top
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		log.WithError(err).Warn("livehub: marshal snapshot failed")
		return
	}
	h.broadcast(data)
}

func (h *LiveHub) recentEvents() []AccountStatusEvent {
	h.recentMu.RLock()
	defer h.recentMu.RUnlock()
	out := make([]AccountStatusEvent, len(h.recent))
	copy(out, h.recent)
	return out
}

func (h *LiveHub) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*liveClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var stale []*liveClient
	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			stale = append(stale, c)
		}
	}
	if len(stale) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range stale {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.mu.Unlock()
}

// NotifyAccountStatus satisfies accounts.Notifier: it records the
// transition for the next periodic snapshot and pushes it to connected
// clients immediately, independent of the 2s ticker, since a status flip
// is the one event dashboards want without delay.
func (h *LiveHub) NotifyAccountStatus(ctx context.Context, accountID, accountName string, platform accounts.Platform, status accounts.Status, errorCode, reason string) {
	ev := AccountStatusEvent{
		Timestamp: time.Now().Unix(),
		AccountID: accountID,
		Platform:  platform,
		Status:    status,
		ErrorCode: errorCode,
		Reason:    reason,
	}

	h.recentMu.Lock()
	h.recent = append([]AccountStatusEvent{ev}, h.recent...)
	if len(h.recent) > 50 {
		h.recent = h.recent[:50]
	}
	h.recentMu.Unlock()

	data, err := json.Marshal(struct {
		Type  string             `json:"type"`
		Event AccountStatusEvent `json:"event"`
	}{Type: "account_status", Event: ev})
	if err != nil {
		log.WithError(err).Warn("livehub: marshal account-status event failed")
		return
	}
	h.broadcast(data)
}

// serveLiveWS upgrades the connection and registers the client with s.live.
func (s *Server) serveLiveWS(c *gin.Context) {
	if s.live == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	conn, err := liveUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("livehub: websocket upgrade failed")
		return
	}

	client := &liveClient{hub: s.live, conn: conn, send: make(chan []byte, 32)}
	s.live.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *liveClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
