package ws

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/flowmessage/chat-app/internal/protocol"
)

// pipeConnection builds a Connection over an in-memory pipe. The returned
// client end reads what the server side sends.
func pipeConnection(t *testing.T, id string, fd int) (*Connection, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	c := &Connection{ID: id, Conn: server, Fd: fd, CreatedAt: time.Now()}
	c.Touch()
	return c, client
}

func TestTouchAdvancesLastActive(t *testing.T) {
	c, _ := pipeConnection(t, "c1", 1)

	before := c.LastActive()
	if before.IsZero() {
		t.Fatal("fresh connection has no activity timestamp")
	}

	time.Sleep(5 * time.Millisecond)
	c.Touch()
	if !c.LastActive().After(before) {
		t.Fatalf("LastActive did not advance: %v -> %v", before, c.LastActive())
	}
}

// TestActivityTrackingIsConcurrencySafe hammers Touch from worker-style
// goroutines while reading the timestamp, the same access pattern the
// heartbeat sweep produces against live connections.
func TestActivityTrackingIsConcurrencySafe(t *testing.T) {
	c, _ := pipeConnection(t, "c1", 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c.Touch()
				if c.LastActive().IsZero() {
					t.Error("observed zero activity timestamp")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestConnectionManagerTracksByIDAndFd(t *testing.T) {
	cm := NewConnectionManager()
	a, _ := pipeConnection(t, "a", 10)
	b, _ := pipeConnection(t, "b", 11)

	cm.Add(a)
	cm.Add(b)

	if cm.Count() != 2 {
		t.Fatalf("count = %d, want 2", cm.Count())
	}
	if got := cm.Get("a"); got != a {
		t.Errorf("Get(a) = %v, want the first connection", got)
	}
	// Each connection keeps its own descriptor entry; fd lookups must never
	// collapse onto another connection.
	if got := cm.GetByFd(11); got != b {
		t.Errorf("GetByFd(11) = %v, want the second connection", got)
	}

	if !cm.Remove("a") {
		t.Fatal("Remove(a) reported not found")
	}
	if cm.Remove("a") {
		t.Fatal("second Remove(a) should be a no-op")
	}
	if cm.GetByFd(10) != nil {
		t.Error("fd entry survived removal")
	}
	if cm.Count() != 1 {
		t.Errorf("count after removal = %d, want 1", cm.Count())
	}
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	cm := NewConnectionManager()
	a, clientA := pipeConnection(t, "a", 10)
	b, clientB := pipeConnection(t, "b", 11)
	cm.Add(a)
	cm.Add(b)

	read := func(client net.Conn, out chan<- []byte) {
		data, err := wsutil.ReadServerText(client)
		if err != nil {
			return
		}
		out <- data
	}

	gotA := make(chan []byte, 1)
	gotB := make(chan []byte, 1)
	go read(clientA, gotA)
	go read(clientB, gotB)

	cm.Broadcast([]byte(`{"type":"onlineUsers","userIds":[1]}`))

	for name, ch := range map[string]chan []byte{"a": gotA, "b": gotB} {
		select {
		case data := <-ch:
			if string(data) != `{"type":"onlineUsers","userIds":[1]}` {
				t.Errorf("client %s got %s", name, data)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s never received the broadcast", name)
		}
	}
}

func TestDispatcherAnswersPing(t *testing.T) {
	c, client := pipeConnection(t, "c1", 1)
	d := NewMessageDispatcher()

	before := c.LastActive()
	time.Sleep(5 * time.Millisecond)

	frames := make(chan []byte, 1)
	go func() {
		data, err := wsutil.ReadServerText(client)
		if err != nil {
			return
		}
		frames <- data
	}()

	d.Dispatch(c, []byte(`{"type":"ping"}`))

	select {
	case data := <-frames:
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode pong: %v", err)
		}
		if msg.Type != protocol.TypePong {
			t.Errorf("type = %q, want %q", msg.Type, protocol.TypePong)
		}
	case <-time.After(time.Second):
		t.Fatal("no pong received")
	}

	// The keepalive counts as activity for the heartbeat sweep.
	if !c.LastActive().After(before) {
		t.Error("ping did not refresh the activity timestamp")
	}
}

func TestDispatcherRoutesRegisteredHandler(t *testing.T) {
	c, _ := pipeConnection(t, "c1", 1)
	d := NewMessageDispatcher()

	got := make(chan protocol.UserConnectedMsg, 1)
	d.Register(protocol.TypeUserConnected, func(conn *Connection, msg interface{}) {
		if m, ok := msg.(protocol.UserConnectedMsg); ok {
			got <- m
		}
	})

	d.Dispatch(c, []byte(`{"type":"userConnected","userId":7}`))

	select {
	case m := <-got:
		if m.UserID != 7 {
			t.Errorf("userId = %d, want 7", m.UserID)
		}
	default:
		t.Fatal("handler was not invoked")
	}
}

func TestDispatcherRejectsUnknownType(t *testing.T) {
	c, client := pipeConnection(t, "c1", 1)
	d := NewMessageDispatcher()

	frames := make(chan []byte, 1)
	go func() {
		data, err := wsutil.ReadServerText(client)
		if err != nil {
			return
		}
		frames <- data
	}()

	d.Dispatch(c, []byte(`{"type":"bogus"}`))

	select {
	case data := <-frames:
		var msg protocol.ErrorMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode error frame: %v", err)
		}
		if msg.Code != "unsupported_type" {
			t.Errorf("code = %q, want unsupported_type", msg.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("no error frame received")
	}
}
