package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

const testOrigin = "http://localhost:8080"

type testRelay struct {
	hub     *server.Hub
	metrics *metrics.Metrics
	server  *httptest.Server
	wsURL   string
}

func startRelay(t *testing.T, mutate func(*server.Config)) *testRelay {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if mutate != nil {
		mutate(cfg)
	}

	m := metrics.New()
	hub := server.NewHub(*cfg, zaptest.NewLogger(t), m)
	ts := httptest.NewServer(server.SetupRoutes(hub, m))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testRelay{
		hub:     hub,
		metrics: m,
		server:  ts,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

// dial connects and consumes the connection_id greeting.
func (r *testRelay) dial(t *testing.T) *testConn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", testOrigin)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(r.wsURL, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	c := &testConn{t: t, conn: conn}
	hello := c.expect("connection_id")
	id, _ := hello["connection_id"].(string)
	if id == "" {
		t.Fatalf("connection_id event without id: %v", hello)
	}
	c.id = id
	return c
}

func (c *testConn) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testConn) sendRaw(data string) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testConn) read() map[string]any {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event map[string]any
	if err := c.conn.ReadJSON(&event); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return event
}

func (c *testConn) expect(kind string) map[string]any {
	c.t.Helper()
	event := c.read()
	if event["type"] != kind {
		c.t.Fatalf("event type = %v, want %s (event %v)", event["type"], kind, event)
	}
	return event
}

func (c *testConn) expectNothing(wait time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	var event map[string]any
	if err := c.conn.ReadJSON(&event); err == nil {
		c.t.Fatalf("unexpected event: %v", event)
	}
}

func (c *testConn) join(room string) {
	c.t.Helper()
	c.send(map[string]string{"type": "join_room", "room": room})
	joined := c.expect("joined_room")
	if joined["room"] != room {
		c.t.Fatalf("joined_room room = %v, want %s", joined["room"], room)
	}
}

func TestConnectionReceivesIdentity(t *testing.T) {
	relay := startRelay(t, nil)

	a := relay.dial(t)
	b := relay.dial(t)
	if a.id == b.id {
		t.Fatalf("connections share identity %s", a.id)
	}
}

func TestRoomConversation(t *testing.T) {
	relay := startRelay(t, nil)
	alice := relay.dial(t)
	bob := relay.dial(t)

	alice.join("lobby")
	bob.join("lobby")

	joined := alice.expect("room_info")
	if joined["event"] != "user_joined" || joined["userId"] != bob.id || joined["room"] != "lobby" {
		t.Fatalf("unexpected join notification: %v", joined)
	}

	bob.send(map[string]any{"type": "send_room", "room": "lobby", "payload": map[string]string{"text": "hi"}})
	for _, c := range []*testConn{alice, bob} {
		msg := c.expect("room_message")
		if msg["from"] != bob.id || msg["room"] != "lobby" {
			t.Fatalf("unexpected room message: %v", msg)
		}
		payload, _ := msg["payload"].(map[string]any)
		if payload["text"] != "hi" {
			t.Fatalf("payload = %v, want text hi", msg["payload"])
		}
	}

	alice.send(map[string]string{"type": "get_info", "room": "lobby", "info": "users"})
	info := alice.expect("room_info")
	users, _ := info["users"].([]any)
	if info["event"] != "current_users" || len(users) != 2 {
		t.Fatalf("unexpected current_users: %v", info)
	}

	bob.send(map[string]string{"type": "leave_room", "room": "lobby"})
	bob.expect("left_room")
	left := alice.expect("room_info")
	if left["event"] != "user_left" || left["userId"] != bob.id {
		t.Fatalf("unexpected leave notification: %v", left)
	}
}

func TestDirectMessage(t *testing.T) {
	relay := startRelay(t, nil)
	alice := relay.dial(t)
	bob := relay.dial(t)

	alice.send(map[string]any{"type": "send_user", "to": bob.id, "payload": "ping"})
	msg := bob.expect("user_message")
	if msg["from"] != alice.id || msg["payload"] != "ping" {
		t.Fatalf("unexpected direct message: %v", msg)
	}
	alice.expectNothing(100 * time.Millisecond)

	alice.send(map[string]any{"type": "send_user", "to": "nobody", "payload": "ping"})
	errEvent := alice.expect("error")
	if errEvent["code"] != "unknown_target" {
		t.Fatalf("error code = %v, want unknown_target", errEvent["code"])
	}
}

func TestProtocolErrors(t *testing.T) {
	relay := startRelay(t, nil)
	c := relay.dial(t)

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"invalid json", "{not json", "invalid_json"},
		{"not an object", `[1,2]`, "invalid_json"},
		{"missing type", `{"room":"lobby"}`, "unknown_type"},
		{"unknown type", `{"type":"dance"}`, "unknown_type"},
		{"missing room", `{"type":"join_room"}`, "missing_field"},
		{"send to room without joining", `{"type":"send_room","room":"lobby","payload":1}`, "not_member"},
		{"send_user without payload", `{"type":"send_user","to":"someone"}`, "missing_field"},
		{"leave room never joined", `{"type":"leave_room","room":"lobby"}`, "not_member"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.sendRaw(tt.frame)
			event := c.expect("error")
			if event["code"] != tt.code {
				t.Fatalf("code = %v, want %s", event["code"], tt.code)
			}
		})
	}

	// The connection survives protocol errors.
	c.join("lobby")
}

func TestDisconnectNotifiesRooms(t *testing.T) {
	relay := startRelay(t, nil)
	alice := relay.dial(t)
	bob := relay.dial(t)

	alice.join("a")
	alice.join("b")
	bob.join("a")
	bob.join("b")
	alice.expect("room_info")
	alice.expect("room_info")

	_ = bob.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.conn.Close()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		event := alice.expect("room_info")
		if event["event"] != "user_left" || event["userId"] != bob.id {
			t.Fatalf("unexpected event: %v", event)
		}
		seen[event["room"].(string)] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("user_left rooms = %v, want a and b", seen)
	}
	alice.expectNothing(100 * time.Millisecond)

	if got := relay.hub.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", got)
	}
}

func TestSelfDeliveryDisabled(t *testing.T) {
	relay := startRelay(t, func(cfg *server.Config) { cfg.SelfDelivery = false })
	alice := relay.dial(t)
	bob := relay.dial(t)

	alice.join("lobby")
	bob.join("lobby")
	alice.expect("room_info")

	alice.send(map[string]any{"type": "send_room", "room": "lobby", "payload": "x"})
	bob.expect("room_message")
	alice.expectNothing(100 * time.Millisecond)
}

func TestAnnounceRooms(t *testing.T) {
	relay := startRelay(t, func(cfg *server.Config) { cfg.AnnounceRooms = true })
	alice := relay.dial(t)
	alice.expect("active_rooms")

	alice.send(map[string]string{"type": "join_room", "room": "lobby"})
	alice.expect("joined_room")
	announcement := alice.expect("active_rooms")
	rooms, _ := announcement["rooms"].(map[string]any)
	if _, ok := rooms["lobby"]; !ok {
		t.Fatalf("active_rooms missing lobby: %v", announcement)
	}
}

func TestRateLimitedFramesAreRejected(t *testing.T) {
	relay := startRelay(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	})
	c := relay.dial(t)

	c.join("lobby")
	c.sendRaw(`{"type":"join_room","room":"other"}`)
	event := c.expect("error")
	if event["code"] != "rate_limited" {
		t.Fatalf("code = %v, want rate_limited", event["code"])
	}
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	relay := startRelay(t, func(cfg *server.Config) { cfg.MaxMessageSize = 64 })
	c := relay.dial(t)

	c.sendRaw(`{"type":"send_room","room":"lobby","payload":"` + strings.Repeat("x", 128) + `"}`)
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed")
	}
}

func TestDisallowedOriginRejected(t *testing.T) {
	relay := startRelay(t, nil)

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(relay.wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("expected handshake to fail")
	}
	if resp == nil {
		t.Fatal("expected an HTTP response")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestWebSocketEndpointRejectsPost(t *testing.T) {
	relay := startRelay(t, nil)

	resp, err := http.Post(relay.server.URL+"/ws", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	relay := startRelay(t, nil)
	alice := relay.dial(t)
	alice.join("lobby")

	get := func(t *testing.T, path string) (*http.Response, string) {
		t.Helper()
		resp, err := http.Get(relay.server.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return resp, string(body)
	}

	t.Run("health", func(t *testing.T) {
		resp, body := get(t, "/health")
		if resp.StatusCode != http.StatusOK || !strings.Contains(body, "running") {
			t.Fatalf("health = %d %q", resp.StatusCode, body)
		}
	})

	t.Run("rooms", func(t *testing.T) {
		resp, body := get(t, "/rooms")
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var summary struct {
			Rooms       map[string]int `json:"rooms"`
			Connections int            `json:"connections"`
		}
		if err := json.Unmarshal([]byte(body), &summary); err != nil {
			t.Fatal(err)
		}
		if summary.Rooms["lobby"] != 1 || summary.Connections != 1 {
			t.Fatalf("rooms = %+v", summary)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := get(t, "/metrics")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		for _, name := range []string{"roomrelay_connections_opened_total", "roomrelay_rooms_active"} {
			if !strings.Contains(body, name) {
				t.Errorf("metrics output missing %s", name)
			}
		}
	})

	t.Run("test page", func(t *testing.T) {
		resp, body := get(t, "/test")
		if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
			t.Errorf("Content-Type = %q", ct)
		}
		if !strings.Contains(body, "join_room") {
			t.Error("test page does not speak the room protocol")
		}
	})
}

func TestHubShutdownClosesConnections(t *testing.T) {
	relay := startRelay(t, nil)
	c := relay.dial(t)

	if err := relay.hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed after shutdown")
	}
	if got := relay.hub.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", got)
	}
	if got := relay.metrics.Value(metrics.ConnectionsClosed); got != 1 {
		t.Errorf("connections closed = %d, want 1", got)
	}
}
