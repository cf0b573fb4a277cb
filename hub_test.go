package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testServer struct {
	*httptest.Server
	hub      *Hub
	registry *Registry
}

// newTestServer runs the full HTTP surface against a fresh database.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	env, _, _ := newTestEnv(t)
	hub := newHub()
	env.Notifier, env.Solicitor = hub, hub
	registry := NewRegistry(env)
	hub.members = registry.Members
	hub.handle = registry.Handle
	hub.start()

	s := &server{store: env.Store.(*sqlStore), registry: registry, hub: hub}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		registry.Shutdown()
		ts.Close()
		hub.stop()
	})
	return &testServer{Server: ts, hub: hub, registry: registry}
}

// signup registers a player and returns a client carrying their session cookie.
func (ts *testServer) signup(t *testing.T, name string) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Jar: jar}
	resp, err := client.Post(ts.URL+"/signup", "application/json", strings.NewReader(`{"name":"`+name+`"}`))
	if err != nil {
		t.Fatalf("signup %s: %v", name, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d", name, resp.StatusCode)
	}
	return client
}

func (ts *testServer) dial(t *testing.T, client *http.Client) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{Jar: client.Jar, HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg WSMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("send %s: %v", msg.Action, err)
	}
}

// expectMessage reads until a message matches, skipping unrelated traffic.
func expectMessage(t *testing.T, conn *websocket.Conn, what string, match func(Message) bool) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(m) {
			return m
		}
	}
}

func TestWebSocketLobbyFlow(t *testing.T) {
	ts := newTestServer(t)
	aliceClient := ts.signup(t, "Alice")
	bobClient := ts.signup(t, "Bob")
	aliceConn := ts.dial(t, aliceClient)
	bobConn := ts.dial(t, bobClient)

	send(t, aliceConn, WSMessage{Action: "create", Channel: "village"})
	m := expectMessage(t, aliceConn, "create toast", func(m Message) bool { return m.Kind == KindToast })
	if m.Type != toastSuccess || m.Channel != "village" {
		t.Errorf("Expected a success toast for village, got %+v", m)
	}

	send(t, bobConn, WSMessage{Action: "join", Channel: "village"})
	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		expectMessage(t, conn, "join toast", func(m Message) bool {
			return m.Kind == KindToast && strings.Contains(m.Text, "Bob joined")
		})
	}

	send(t, bobConn, WSMessage{Action: "start", Channel: "village"})
	m = expectMessage(t, bobConn, "rejected start", func(m Message) bool { return m.Type == toastError })
	if !strings.Contains(m.Text, "only the game creator") {
		t.Errorf("Unexpected rejection %q", m.Text)
	}

	send(t, aliceConn, WSMessage{Action: "start", Channel: "nowhere"})
	m = expectMessage(t, aliceConn, "not found toast", func(m Message) bool { return m.Type == toastError })
	if !strings.HasPrefix(m.Text, "Not found: ") {
		t.Errorf("Expected a not found toast, got %q", m.Text)
	}

	resp, err := aliceClient.Get(ts.URL + "/games/village")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var view gameView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode game view: %v", err)
	}
	if view.Phase != PhaseWaiting || len(view.Players) != 2 || view.Players[1].Name != "Bob" {
		t.Errorf("Unexpected game view %+v", view)
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Error("Game views must not be cached")
	}
}

func TestGameViewNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/games/nowhere")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestWebSocketRequiresLogin(t *testing.T) {
	ts := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("Expected the handshake to fail without a session")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %v", resp)
	}
}

func TestNotifyWithoutConnection(t *testing.T) {
	h := newHub()
	err := h.Notify(context.Background(), Recipient{Channel: "village", Player: 7}, renderToast(toastInfo, "hello"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("A direct message to an offline player should be not found, got %v", err)
	}
	if err := h.Notify(context.Background(), Recipient{Channel: "village"}, renderToast(toastInfo, "hello")); err != nil {
		t.Errorf("Broadcast to an empty channel should succeed, got %v", err)
	}
}
