//go:build linux

package ws

import (
	"errors"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitTimeoutMs bounds one epoll_wait so the event loop notices shutdown.
const waitTimeoutMs = 200

// poller multiplexes connection readiness with epoll. Ready connections are
// returned by wait and read by the server's worker pool.
type poller struct {
	fd     int
	mu     sync.RWMutex
	conns  map[int]net.Conn
	fds    map[net.Conn]int
	events []unix.EpollEvent
}

func newPoller(func(net.Conn)) (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{
		fd:     fd,
		conns:  make(map[int]net.Conn),
		fds:    make(map[net.Conn]int),
		events: make([]unix.EpollEvent, 128),
	}, nil
}

func (p *poller) add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errors.New("ws: connection has no file descriptor")
	}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns == nil {
		return net.ErrClosed
	}
	p.conns[fd] = conn
	p.fds[conn] = fd
	return nil
}

// remove looks the descriptor up by conn since a closed conn no longer
// exposes it.
func (p *poller) remove(conn net.Conn) error {
	p.mu.Lock()
	fd, ok := p.fds[conn]
	if ok {
		delete(p.fds, conn)
		delete(p.conns, fd)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait returns the connections with pending input. It returns an empty
// slice when the timeout expires or the call was interrupted.
func (p *poller) wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(p.fd, p.events, waitTimeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}

	p.mu.RLock()
	conns := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := p.conns[int(p.events[i].Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	p.mu.RUnlock()
	return conns, nil
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = nil
	p.fds = nil
	return unix.Close(p.fd)
}

// socketFD extracts the descriptor through SyscallConn, which unlike File()
// does not duplicate it.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
