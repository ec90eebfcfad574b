package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"supportdesk/api/internal/realtime"
)

func TestWebSocketReceivesConversationEvents(t *testing.T) {
	fs := newFakeStore(testCustomer, testAgent)
	svc := newTestService(fs)
	hub := realtime.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	svc.hub = hub

	ts := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?token=" + sessionFor(t, svc, testAgent).Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := svc.CreateConversation(context.Background(), sessionFor(t, svc, testCustomer), CreateConversationInput{Subject: "Hi", Body: "Hello"}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	waitForDispatches(t, svc)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg realtime.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "conversation.created" {
		t.Fatalf("expected conversation.created, got %q", msg.Type)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	svc := newTestService(newFakeStore())
	svc.hub = realtime.NewHub()
	server := NewHTTPServer(svc, "*")

	rr, _ := doJSON(t, server, http.MethodGet, "/api/ws", "", "")

	assertUnauthorizedCode(t, rr)
}
