// Package client provides the Go client for the chat server: a WebSocket
// connection for real-time events, a small REST wrapper for the HTTP surface,
// and a Thread controller that keeps one open conversation consistent with
// optimistic sends. It connects using gobwas/ws, the same library the server
// uses.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/flowmessage/chat-app/internal/protocol"
)

// announceInterval is how often a connected client re-announces its user so
// presence survives server-side eviction of quiet connections.
const announceInterval = 30 * time.Second

// Conn is a live WebSocket connection to the chat server. It manages the
// connection lifecycle, dispatches incoming messages to registered handlers,
// and re-announces presence periodically after Announce is called.
type Conn struct {
	conn         net.Conn
	mu           sync.Mutex
	handlers     map[string]func(json.RawMessage)
	connectionID string
	userID       int64
	done         chan struct{}
	closeOnce    sync.Once
}

// Dial connects to the server's WebSocket URL and starts the read loop.
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Conn{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Conn) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a server message type. The handler receives the
// full raw JSON of the message for flexible decoding. Handlers run on the
// read loop goroutine so they should not block for extended periods. Only one
// handler per type is supported; registering again replaces the previous one.
func (c *Conn) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Announce binds this connection to a user and starts the periodic presence
// re-announce. Calling it again switches the announced user.
func (c *Conn) Announce(userID int64) error {
	c.mu.Lock()
	first := c.userID == 0
	c.userID = userID
	c.mu.Unlock()

	if first {
		go c.announceLoop()
	}
	return c.sendAnnounce()
}

func (c *Conn) sendAnnounce() error {
	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()
	if userID == 0 {
		return nil
	}
	return c.Send(protocol.UserConnectedMsg{
		Type:   protocol.TypeUserConnected,
		UserID: userID,
	})
}

// announceLoop re-sends userConnected every announceInterval until the
// connection closes. The announcement is idempotent server-side.
func (c *Conn) announceLoop() {
	ticker := time.NewTicker(announceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.sendAnnounce(); err != nil {
				return
			}
		}
	}
}

// ConnectionID returns the id the server assigned in its connected greeting,
// or an empty string if the greeting has not arrived yet.
func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Close closes the connection and stops the read and announce loops. It is
// safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readLoop continuously reads frames from the server and dispatches them to
// registered handlers. It runs until the connection is closed or an
// unrecoverable read error occurs.
func (c *Conn) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// The connected greeting is handled internally; everything else goes
		// to the registered handler.
		if envelope.Type == protocol.TypeConnected {
			var msg protocol.ConnectedMsg
			if err := json.Unmarshal(data, &msg); err == nil {
				c.mu.Lock()
				c.connectionID = msg.ConnectionID
				c.mu.Unlock()
			}
		}

		c.mu.Lock()
		handler, ok := c.handlers[envelope.Type]
		c.mu.Unlock()
		if ok {
			handler(json.RawMessage(data))
		}
	}
}
