//go:build linux

package ws

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Poller notifies the event loop when registered sockets have data to read.
// On Linux it is a thin wrapper over epoll: descriptors are registered with
// the kernel and Wait blocks in epoll_wait, so idle connections cost no
// goroutines. The poller deals in descriptors only; mapping a descriptor
// back to its connection is the ConnectionManager's job.
type Poller struct {
	fd     int
	events []unix.EpollEvent // reusable event buffer for Wait
}

// NewPoller creates an epoll instance via epoll_create1.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{
		fd:     fd,
		events: make([]unix.EpollEvent, 128),
	}, nil
}

// Add registers a socket for read readiness notifications, using EPOLLIN and
// EPOLLHUP events. The conn argument is unused here; the goroutine fallback
// on other platforms needs it.
func (p *Poller) Add(fd int, conn net.Conn) error {
	return unix.EpollCtl(p.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	})
}

// Remove unregisters a socket.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until one or more registered sockets are ready for reading and
// returns their descriptors.
func (p *Poller) Wait() ([]int, error) {
	n, err := unix.EpollWait(p.fd, p.events, -1)
	if err != nil {
		return nil, err
	}

	fds := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fds = append(fds, int(p.events[i].Fd))
	}
	return fds, nil
}

// Close closes the epoll file descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}

// socketFD extracts the file descriptor from a net.Conn using the
// SyscallConn interface. This avoids duplicating the file descriptor (which
// File() does), keeping the original fd valid for epoll registration.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
