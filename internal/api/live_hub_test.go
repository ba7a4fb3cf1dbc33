package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/axiomrelay/gateway/internal/accounts"
)

func TestLiveHubPushesAccountStatusToConnectedClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewLiveHub(nil)
	s := &Server{live: hub}

	engine := gin.New()
	engine.GET("/admin/live", s.serveLiveWS)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let the register goroutine process

	hub.NotifyAccountStatus(context.Background(), "acct-1", "name", accounts.PlatformClaude, accounts.StatusUnauthorized, "", "bad token")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(msg), "acct-1") || !strings.Contains(string(msg), "account_status") {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestServeLiveWSNotFoundWhenHubMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{}

	engine := gin.New()
	engine.GET("/admin/live", s.serveLiveWS)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/live"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail when no live hub is configured")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}
