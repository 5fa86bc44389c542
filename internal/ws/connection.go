package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
// After the client announces itself, the connection carries the bound user
// id; before that it is anonymous.
type Connection struct {
	ID         string    // connection id (UUID)
	Conn       net.Conn  // underlying TCP connection
	Fd         int       // file descriptor for poller lookups
	CreatedAt  time.Time // when the connection was established
	lastActive atomic.Int64
	userID     atomic.Int64
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read
}

// SessionID returns the connection id. Together with Send it satisfies the
// presence registry's handle contract.
func (c *Connection) SessionID() string { return c.ID }

// BindUser records which user owns this connection.
func (c *Connection) BindUser(userID int64) { c.userID.Store(userID) }

// UserID returns the bound user id, or 0 if the client has not announced
// itself yet.
func (c *Connection) UserID() int64 { return c.userID.Load() }

// Touch records activity on the connection. Worker goroutines call it on
// every successful read while the heartbeat goroutine reads the timestamp,
// so it is kept in an atomic.
func (c *Connection) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns when the connection last showed activity.
func (c *Connection) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

// Send writes a WebSocket text frame to this connection. The write mutex
// ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry that maps connection ids and
// file descriptors to their respective Connection objects. It supports O(1)
// lookups by both id and fd.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the id and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by id, closes the underlying network
// connection, and removes it from both lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given id, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// Broadcast sends a frame to all connected clients, announced or not.
// Errors on individual connections are ignored; failed connections are
// cleaned up when their next read fails or the heartbeat evicts them.
func (cm *ConnectionManager) Broadcast(msg []byte) {
	for _, conn := range cm.All() {
		_ = conn.Send(msg)
	}
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
