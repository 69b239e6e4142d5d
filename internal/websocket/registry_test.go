package websocket

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"rollcall/pkg/types"
)

func TestRegistry_RegisterConnectionValidation(t *testing.T) {
	registry := NewRegistry()

	if err := registry.RegisterConnection(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	ws, _ := createTestWebSocketConnection(t)
	conn := NewConnection(ws, 0, 1)
	defer conn.Close()
	if err := registry.RegisterConnection(conn); err != ErrMissingSession {
		t.Errorf("Expected ErrMissingSession, got %v", err)
	}
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewRegistry()

	ws1, _ := createTestWebSocketConnection(t)
	ws2, _ := createTestWebSocketConnection(t)
	ws3, _ := createTestWebSocketConnection(t)
	first := NewConnection(ws1, 7, 1)
	second := NewConnection(ws2, 7, 1)
	other := NewConnection(ws3, 8, 2)
	defer first.Close()
	defer second.Close()
	defer other.Close()

	for _, c := range []*Connection{first, second, other} {
		if err := registry.RegisterConnection(c); err != nil {
			t.Fatalf("RegisterConnection failed: %v", err)
		}
	}

	if got := len(registry.GetSessionConnections(7)); got != 2 {
		t.Errorf("Expected 2 followers of session 7, got %d", got)
	}
	stats := registry.GetStats()
	if stats["total_connections"] != 3 || stats["active_sessions"] != 2 {
		t.Errorf("Unexpected stats %v", stats)
	}

	registry.UnregisterConnection(first)
	registry.UnregisterConnection(first)
	if got := len(registry.GetSessionConnections(7)); got != 1 {
		t.Errorf("Expected 1 follower after unregister, got %d", got)
	}

	registry.UnregisterConnection(second)
	if got := registry.GetStats()["active_sessions"]; got != 1 {
		t.Errorf("Expected empty session to be removed, got %d sessions", got)
	}

	if conns := registry.GetSessionConnections(999); conns == nil || len(conns) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", conns)
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	registry := NewRegistry()

	ws1, received1 := createTestWebSocketConnection(t)
	ws2, received2 := createTestWebSocketConnection(t)
	follower := NewConnection(ws1, 7, 1)
	bystander := NewConnection(ws2, 8, 1)
	defer follower.Close()
	defer bystander.Close()
	_ = registry.RegisterConnection(follower)
	_ = registry.RegisterConnection(bystander)

	event := types.PresenceEvent{Type: types.PresenceMarked, SessionID: 7, StudentID: 101, At: time.Now()}
	if got := registry.Broadcast(event); got != 1 {
		t.Errorf("Expected 1 delivery, got %d", got)
	}
	expectMessage(t, received1, `"student_id":101`)

	select {
	case msg := <-received2:
		t.Errorf("Follower of another session received %s", msg)
	case <-time.After(100 * time.Millisecond):
	}

	// Closed connections are skipped
	_ = follower.Close()
	if got := registry.Broadcast(event); got != 0 {
		t.Errorf("Expected no delivery to a closed connection, got %d", got)
	}
}

func TestRegistry_CloseSession(t *testing.T) {
	registry := NewRegistry()

	client, server := websocketPair(t)
	conn := NewConnection(server, 7, 1)
	_ = registry.RegisterConnection(conn)

	if got := registry.CloseSession(7, "session cancelled"); got != 1 {
		t.Errorf("Expected 1 connection closed, got %d", got)
	}
	if got := len(registry.GetSessionConnections(7)); got != 0 {
		t.Errorf("Expected session removed, got %d followers", got)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close frame, got %v", err)
	}
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()

	const n = 20
	conns := make([]*Connection, n)
	for i := range conns {
		ws, _ := createTestWebSocketConnection(t)
		conns[i] = NewConnection(ws, int64(i%3+1), int64(i))
		defer conns[i].Close()
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(2)
		go func(c *Connection) {
			defer wg.Done()
			_ = registry.RegisterConnection(c)
		}(c)
		go func(c *Connection) {
			defer wg.Done()
			_ = registry.GetSessionConnections(c.SessionID())
			_ = registry.GetStats()
		}(c)
	}
	wg.Wait()

	if got := registry.GetStats()["total_connections"]; got != n {
		t.Errorf("Expected %d connections, got %d", n, got)
	}
}
