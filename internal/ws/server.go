// Package ws handles WebSocket connection management: upgrading HTTP
// connections, maintaining active connections, and dispatching incoming
// frames to the application's message handlers.
package ws

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/flowmessage/chat-app/internal/metrics"
	"github.com/flowmessage/chat-app/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket gateway.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the WebSocket gateway built on gobwas/ws and a readiness poller
// (epoll on Linux). It upgrades HTTP connections, registers their sockets
// with the poller, and dispatches ready connections to a bounded worker pool
// for frame reading. It does not own an HTTP listener: the REST
// server mounts HandleUpgrade on its mux, so the whole process serves one
// port.
type Server struct {
	config       ServerConfig
	poller       *Poller
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(conn *Connection)              // called when a connection is removed
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// Start initializes the poller and begins the event loop and heartbeat
// monitor in background goroutines. It returns immediately.
func (s *Server) Start() error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: gateway started (workers=%d, max_conns=%d)",
		s.config.WorkerPoolSize, s.config.MaxConnections)
	return nil
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader. On success it creates a Connection, registers
// it with the connection manager and the poller, and sends the connected
// greeting.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	fd := socketFD(conn)
	connID := uuid.New().String()

	c := &Connection{
		ID:        connID,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.conns.Add(c)
	if err := s.poller.Add(fd, conn); err != nil {
		log.Printf("ws: poller add failed for conn %s: %v", connID, err)
		s.conns.Remove(connID)
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	greeting, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		ConnectionID: connID,
	})
	if err != nil {
		log.Printf("ws: failed to build connected greeting for %s: %v", connID, err)
	} else if err := c.Send(greeting); err != nil {
		log.Printf("ws: failed to send connected greeting for %s: %v", connID, err)
	}

	log.Printf("ws: new connection %s fd=%d (total=%d)", connID, fd, s.conns.Count())
}

// startEventLoop runs the poller wait loop. For each batch of ready
// descriptors, it resolves the connection and dispatches it to a worker
// goroutine (bounded by the worker pool semaphore) that reads and processes
// the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		fds, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: poller wait error: %v", err)
				continue
			}
		}

		for _, fd := range fds {
			// Already removed between readiness and lookup.
			c := s.conns.GetByFd(fd)
			if c == nil {
				continue
			}

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func(c *Connection) {
				defer func() { <-s.workerPool }()
				s.handleConn(c)
			}(c)
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error) the connection is removed from the
// poller and the connection manager.
func (s *Server) handleConn(c *Connection) {
	// Guard against duplicate dispatch from level-triggered polling.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale poll dispatch).
		// The heartbeat handles dead connections.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = c.Conn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Touch()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (read error, heartbeat timeout, or graceful close). The presence layer
// uses it to release the user's registry entry.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// RemoveConnection removes a connection from both the poller and the
// connection manager, and closes the underlying network connection. It is
// exported so that the heartbeat monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.Remove(c.Fd)

	// Only proceed if the connection was actually in the manager, so racing
	// removals (read error + heartbeat timeout) clean up once.
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Set(float64(s.conns.Count()))

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("ws: connection closed %s (total=%d)", c.ID, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID. It is goroutine-safe thanks to the per-connection write mutex.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.Send(data)

	// Clear the write deadline so it doesn't affect heartbeat pings.
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Connections returns the ConnectionManager for external access to
// connection state (broadcasts, counts).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime reports how long the gateway has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Shutdown stops the event loop, closes all active connections, and cleans
// up the poller.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down gateway...")

	close(s.done)

	for _, c := range s.conns.All() {
		_ = s.poller.Remove(c.Fd)
		c.Close()
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: gateway stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR), which
// is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
