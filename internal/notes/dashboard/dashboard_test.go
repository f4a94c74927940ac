package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	notesync "github.com/driftpad/driftpad/internal/notes/sync"
)

// startServer brings up a server on an ephemeral port.
func startServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(0, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start dashboard: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("failed to stop dashboard: %v", err)
		}
	})

	return s
}

// dial connects a WebSocket client and waits until the server registers it.
func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	if err != nil {
		t.Fatalf("failed to dial dashboard: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never registered the client")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return conn
}

// readMessage reads and decodes one broadcast.
func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to decode message: %v", err)
	}
	return msg
}

func TestHealthEndpoint(t *testing.T) {
	s := startServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestBroadcastSyncComplete(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	s.OnSyncComplete("alice", notesync.Stats{
		Pushed:   3,
		Pulled:   2,
		Skipped:  1,
		Duration: 250 * time.Millisecond,
	}, nil)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("expected %s, got %s", MessageTypeSyncComplete, msg.Type)
	}

	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if data.UserID != "alice" || data.Pushed != 3 || data.Pulled != 2 || data.Skipped != 1 {
		t.Errorf("payload mismatch: %+v", data)
	}
	if data.DurationMS != 250 {
		t.Errorf("expected 250ms, got %d", data.DurationMS)
	}
	if data.Error != "" {
		t.Errorf("expected no error, got %q", data.Error)
	}
}

func TestBroadcastSyncError(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	s.OnSyncComplete("alice", notesync.Stats{}, fmt.Errorf("push phase: boom"))

	msg := readMessage(t, conn)
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if data.Error != "push phase: boom" {
		t.Errorf("expected error string in payload, got %q", data.Error)
	}
}

func TestBroadcastConnectivity(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	s.OnConnectivity(true)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeConnectivity {
		t.Fatalf("expected %s, got %s", MessageTypeConnectivity, msg.Type)
	}

	var data ConnectivityData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if !data.Online {
		t.Error("expected online transition")
	}
}

func TestClientDisconnect(t *testing.T) {
	s := startServer(t)
	conn := dial(t, s)

	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("failed to close connection: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("server never noticed the disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	s := startServer(t)

	// No clients connected; events must be absorbed without blocking.
	s.OnSyncComplete("alice", notesync.Stats{}, nil)
	s.OnConnectivity(false)
}
