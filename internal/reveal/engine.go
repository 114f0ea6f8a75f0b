package reveal

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// eventQueueSize bounds the number of transport events waiting for the loop.
const eventQueueSize = 64

type eventKind int

const (
	evChunk eventKind = iota
	evTerminate
	evError
	evSkip
	evSync
)

type event struct {
	kind eventKind
	text string
	err  error
	ack  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEffectSink injects the side-effect sink.
func WithEffectSink(s EffectSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// Engine runs one Session on its own event loop. Transport events, timer
// ticks and skips are queued and handled one at a time, so the session is
// never touched concurrently. Engine implements the transport ingestor
// contract (OnChunk, OnTerminate, OnError).
type Engine struct {
	session *Session
	clock   Clock
	sink    EffectSink
	log     *zap.Logger

	events  chan event
	quit    chan struct{}
	stopped chan struct{}
	done    chan struct{}
	closing sync.Once

	timer    Timer
	finished bool

	current atomic.Pointer[Snapshot]
	result  atomic.Pointer[Result]

	mu      sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewEngine creates an Engine for one message and starts its loop. Close
// must be called to release it.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		clock:   realClock{},
		log:     zap.NewNop(),
		events:  make(chan event, eventQueueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
		subs:    make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(e)
	}

	user := cfg.OnComplete
	cfg.OnComplete = func(r Result) {
		e.result.Store(&r)
		if user != nil {
			user(r)
		}
	}
	e.session = NewSession(cfg, e.log)

	snap := e.session.Snapshot()
	e.current.Store(&snap)

	go e.run()
	return e
}

// OnChunk queues a chunk of text.
func (e *Engine) OnChunk(text string) {
	e.post(event{kind: evChunk, text: text})
}

// OnTerminate queues the end of the transport stream.
func (e *Engine) OnTerminate() {
	e.post(event{kind: evTerminate})
}

// OnError queues a transport failure.
func (e *Engine) OnError(err error) {
	e.post(event{kind: evError, err: err})
}

// Skip reveals everything buffered and completes the session. It returns
// once the loop has applied the skip, so a snapshot taken afterwards is
// already complete. Skip must not be called from a subscriber or the
// completion callback.
func (e *Engine) Skip() {
	e.call(evSkip)
}

// Sync waits until every event queued before it has been handled.
func (e *Engine) Sync() {
	e.call(evSync)
}

// Snapshot returns the latest presentation state.
func (e *Engine) Snapshot() Snapshot {
	return *e.current.Load()
}

// Subscribe registers fn for state changes and returns a function that
// removes it. fn runs on the engine loop and must not block.
func (e *Engine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	if e.subs != nil {
		e.subs[id] = fn
	}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Done is closed when the session reaches Complete.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Result returns the completion result once the session is complete.
func (e *Engine) Result() (Result, bool) {
	r := e.result.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// Close stops the loop, cancels any pending tick and drops all
// subscribers. Events posted afterwards are discarded. Close is idempotent
// and does not fire the completion callback.
func (e *Engine) Close() {
	e.closing.Do(func() { close(e.quit) })
	<-e.stopped

	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}

func (e *Engine) post(ev event) bool {
	select {
	case <-e.quit:
		e.log.Debug("event dropped", zap.Error(ErrClosed), zap.Int("kind", int(ev.kind)))
		return false
	default:
	}
	select {
	case e.events <- ev:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Engine) call(kind eventKind) {
	ack := make(chan struct{})
	if !e.post(event{kind: kind, ack: ack}) {
		return
	}
	select {
	case <-ack:
	case <-e.stopped:
	}
}

func (e *Engine) run() {
	defer close(e.stopped)
	defer e.stopTimer()

	for {
		var tick <-chan time.Time
		if e.timer != nil {
			tick = e.timer.C()
		}

		select {
		case <-e.quit:
			return
		case ev := <-e.events:
			e.handle(ev)
		case now := <-tick:
			e.timer = nil
			e.emit(e.session.Tick(now))
		}
		e.reconcile()
	}
}

func (e *Engine) handle(ev event) {
	if ev.ack != nil {
		defer close(ev.ack)
	}
	now := e.clock.Now()

	switch ev.kind {
	case evChunk:
		e.session.OnChunk(ev.text, now)
	case evTerminate:
		e.session.OnTerminate(now)
	case evError:
		e.session.OnError(ev.err, now)
	case evSkip:
		// The timer goes first so a fire racing with the skip cannot
		// advance the cursor a second time.
		e.stopTimer()
		if events, ok := e.session.Skip(now); ok {
			e.emit(events)
		}
	case evSync:
	}
	// Acknowledge only after observers have seen the new state.
	e.reconcile()
}

// reconcile aligns the timer with the session schedule, publishes the new
// snapshot and closes Done on completion.
func (e *Engine) reconcile() {
	switch scheduled := e.session.Scheduled(); {
	case scheduled && e.timer == nil:
		e.timer = e.clock.NewTimer(e.session.Speed())
	case !scheduled && e.timer != nil:
		e.stopTimer()
	}

	snap := e.session.Snapshot()
	if prev := e.current.Load(); !prev.sameState(snap) {
		e.current.Store(&snap)
		e.notify(snap)
	}

	if snap.Done() && !e.finished {
		e.finished = true
		e.log.Debug("reveal complete",
			zap.Int("revealed", snap.Revealed),
			zap.Int("total", snap.Total),
			zap.Int("chunks", e.session.buf.Chunks()),
			zap.Int("ticks", e.session.Ticks()),
			zap.Bool("skipped", snap.Skipped),
			zap.Bool("truncated", snap.Truncated))
		close(e.done)
	}
}

func (e *Engine) notify(snap Snapshot) {
	e.mu.Lock()
	fns := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// emit hands events to the sink. Sink failures never reach the session.
func (e *Engine) emit(events []SideEffectEvent) {
	if len(events) == 0 || e.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("side-effect sink panicked", zap.Any("panic", r))
		}
	}()
	e.sink.Emit(events)
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
