//go:build !linux

package ws

import (
	"net"
	"sync"
)

// poller gives every connection its own reader goroutine on platforms
// without epoll. wait only blocks until close, so the server's event loop
// idles and the worker pool is bypassed.
type poller struct {
	handle func(net.Conn)

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	done  chan struct{}
}

func newPoller(handle func(net.Conn)) (*poller, error) {
	return &poller{
		handle: handle,
		conns:  make(map[net.Conn]struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (p *poller) add(conn net.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns == nil {
		return net.ErrClosed
	}
	p.conns[conn] = struct{}{}

	go func() {
		for p.registered(conn) {
			p.handle(conn)
		}
	}()
	return nil
}

func (p *poller) registered(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[conn]
	return ok
}

func (p *poller) remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	return nil
}

func (p *poller) wait() ([]net.Conn, error) {
	<-p.done
	return nil, net.ErrClosed
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns != nil {
		p.conns = nil
		close(p.done)
	}
	return nil
}

func socketFD(net.Conn) int {
	return -1
}
