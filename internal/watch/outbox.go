package watch

import (
	"sync"

	"github.com/whisper/reveal/internal/reveal"
)

// maxPendingEffects bounds effect messages waiting for a slow connection.
// Further effects are dropped; they are best effort.
const maxPendingEffects = 32

// outbox decouples an engine loop from the connection write path. Only the
// newest snapshot is kept; effect and final messages are queued in order.
// A single worker goroutine sends everything, snapshot first.
type outbox struct {
	mu      sync.Mutex
	snap    *reveal.Snapshot
	effects [][]byte
	final   [][]byte
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newOutbox() *outbox {
	return &outbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// snapshot replaces the pending snapshot.
func (o *outbox) snapshot(s reveal.Snapshot) {
	o.mu.Lock()
	if !o.closed {
		o.snap = &s
	}
	o.mu.Unlock()
	o.signal()
}

// effect queues an effect message and reports whether it was accepted.
func (o *outbox) effect(data []byte) bool {
	o.mu.Lock()
	ok := !o.closed && len(o.effects) < maxPendingEffects
	if ok {
		o.effects = append(o.effects, data)
	}
	o.mu.Unlock()
	if ok {
		o.signal()
	}
	return ok
}

// push queues a message that is never dropped.
func (o *outbox) push(data []byte) {
	o.mu.Lock()
	if !o.closed {
		o.final = append(o.final, data)
	}
	o.mu.Unlock()
	o.signal()
}

// close stops accepting messages and waits until the worker has flushed
// what was queued.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
	<-o.done
}

func (o *outbox) take() (*reveal.Snapshot, [][]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := o.snap
	msgs := append(o.effects, o.final...)
	o.snap, o.effects, o.final = nil, nil, nil
	return snap, msgs, o.closed
}

// run sends queued messages until close. encode turns a snapshot into a
// wire message; send errors are left to the caller's logging.
func (o *outbox) run(encode func(reveal.Snapshot) []byte, send func([]byte)) {
	defer close(o.done)
	for range o.wake {
		snap, msgs, closed := o.take()
		if snap != nil {
			if data := encode(*snap); data != nil {
				send(data)
			}
		}
		for _, data := range msgs {
			send(data)
		}
		if closed {
			return
		}
	}
}
