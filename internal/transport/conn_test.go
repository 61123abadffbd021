// internal/transport/conn_test.go
package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/agentfeed/internal/types"
)

var upgrader = websocket.Upgrader{}

// wsServer runs handler for every websocket connection it accepts.
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
}

func newTestConn(t *testing.T, baseURL string, cfg Config) *Conn {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.ChatID == "" {
		cfg.ChatID = "chat-1"
	}
	if cfg.Token == "" {
		cfg.Token = "tok"
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestEndpointURL(t *testing.T) {
	u, err := endpointURL("https://example.com/", "chat-1", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if u != "wss://example.com/api/v1/chats/ws/chat-1?token=tok" {
		t.Errorf("unexpected url %s", u)
	}
	u, err = endpointURL("http://localhost:8000", "chat-2", "")
	if err != nil {
		t.Fatal(err)
	}
	if u != "ws://localhost:8000/api/v1/chats/ws/chat-2" {
		t.Errorf("unexpected url %s", u)
	}
}

func TestSendConnectsOnDemand(t *testing.T) {
	received := make(chan types.OutboundMessage, 1)
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		var msg types.OutboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		received <- msg
		// Echo it back as a confirmed event.
		conn.WriteJSON(map[string]any{
			"type": "message", "_id": "evt-1", "chat_id": "chat-1",
			"author": "user", "content": msg.Content,
			"created_at": "2023-01-01T12:00:00Z", "updated_at": "2023-01-01T12:00:00Z",
		})
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := newTestConn(t, srv.URL, Config{SendTimeout: 2 * time.Second})
	// No explicit Dial: Send must establish the link itself.
	if !c.Send(context.Background(), "hello") {
		t.Fatal("send failed")
	}

	select {
	case msg := <-received:
		if msg.Content != "hello" || msg.SenderType != "user" {
			t.Errorf("unexpected outbound payload %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}

	select {
	case frame := <-c.Frames():
		if frame.Type != types.FrameMessage || frame.Event.Content != "hello" {
			t.Errorf("unexpected frame %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_title_updated","chat_id":"chat-1","title":"ok","updated_at":"2023-01-01T12:00:00Z"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := newTestConn(t, srv.URL, Config{})
	if err := c.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-c.Frames():
		if frame.Type != types.FrameTitleUpdated {
			t.Errorf("expected the valid frame to survive, got %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame never delivered")
	}
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	var connects atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		n := connects.Add(1)
		if n == 1 {
			// Abnormal drop: no close handshake.
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{
			"type": "chat_title_updated", "chat_id": "chat-1",
			"title": "back", "updated_at": "2023-01-01T12:00:00Z",
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := newTestConn(t, srv.URL, Config{
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})
	if err := c.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-c.Frames():
		if frame.Title == nil || frame.Title.Title != "back" {
			t.Errorf("unexpected frame after reconnect %+v", frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("never reconnected")
	}
	if connects.Load() < 2 {
		t.Errorf("expected at least 2 connects, got %d", connects.Load())
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			// First connection upgrades, then drops abnormally.
			if conn, err := upgrader.Upgrade(w, r, nil); err == nil {
				conn.Close()
			}
			return
		}
		// Every retry is refused before the handshake completes.
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestConn(t, srv.URL, Config{
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	c.Dial(context.Background())

	// Frames channel closing signals the exhausted budget.
	select {
	case _, ok := <-c.Frames():
		if ok {
			t.Fatal("expected closed frames channel, got a frame")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("frames channel never closed")
	}

	if st := c.State(); st != StateDisconnected {
		t.Errorf("expected disconnected state, got %s", st)
	}
	if c.Send(context.Background(), "late") {
		t.Error("send should fail after budget exhaustion")
	}
	got := hits.Load()
	// Initial connect plus exactly MaxReconnectAttempts retries.
	if got != 4 {
		t.Errorf("expected 4 connection attempts, got %d", got)
	}
}

func TestCloseDisablesReconnect(t *testing.T) {
	var connects atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		connects.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	})
	defer srv.Close()

	c := newTestConn(t, srv.URL, Config{ReconnectInterval: 10 * time.Millisecond})
	if err := c.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Close()

	select {
	case _, ok := <-c.Frames():
		if ok {
			t.Fatal("expected closed frames channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel never closed")
	}

	// Give any stray retry timer a chance to fire.
	time.Sleep(50 * time.Millisecond)
	if got := connects.Load(); got != 1 {
		t.Errorf("expected no reconnect after Close, got %d connects", got)
	}
	if st := c.State(); st != StateClosed {
		t.Errorf("expected closed state, got %s", st)
	}
}

func TestSendTimesOutWithoutServer(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) { conn.Close() })
	url := srv.URL
	srv.Close() // nothing listening anymore

	c := newTestConn(t, url, Config{
		SendTimeout:          50 * time.Millisecond,
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	start := time.Now()
	if c.Send(context.Background(), "hello") {
		t.Fatal("send should fail with no server")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("send did not respect its timeout, took %v", elapsed)
	}
}
