// Package watch runs reveal engines on behalf of browser connections. Each
// (connection, stream) pair gets its own Engine fed by a transport source;
// snapshots, side-effects and the completion status are pushed back to the
// connection as protocol messages.
package watch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/protocol"
	"github.com/whisper/reveal/internal/reveal"
	"github.com/whisper/reveal/internal/sfx"
	"github.com/whisper/reveal/internal/transcript"
	"github.com/whisper/reveal/internal/transport"
)

var (
	// ErrNotWatching is returned for a stream the connection is not watching.
	ErrNotWatching = errors.New("watch: not watching stream")

	// ErrTooManyStreams is returned when a connection hits MaxStreams.
	ErrTooManyStreams = errors.New("watch: too many concurrent streams")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("watch: manager closed")
)

// Sender delivers a server message to a connection. *ws.Server implements it.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// SourceFactory builds the transport source feeding one watch.
type SourceFactory func(connID string, msg protocol.WatchMsg) transport.Source

// SessionTracker mirrors watch state into the connection session.
// *session.Store implements it.
type SessionTracker interface {
	AddStream(ctx context.Context, sessionID, streamID string) error
	RemoveStream(ctx context.Context, sessionID, streamID string) (int64, error)
	SetSound(ctx context.Context, sessionID string, enabled bool) error
}

// Recorder persists completed reveals. *transcript.Store implements it.
type Recorder interface {
	Record(ctx context.Context, t transcript.Transcript) error
}

// Options tunes a Manager.
type Options struct {
	// Engine returns the reveal config for a watch; priority selects the
	// faster cadence.
	Engine func(priority bool) reveal.Config

	// MaxStreams caps concurrent watches per connection.
	MaxStreams int

	// StoreTimeout bounds session and transcript writes.
	StoreTimeout time.Duration
}

// DefaultOptions returns the standard cadence and limits.
func DefaultOptions() Options {
	return Options{
		Engine: func(priority bool) reveal.Config {
			cfg := reveal.DefaultConfig()
			if priority {
				cfg.Speed = reveal.PrioritySpeed
			}
			return cfg
		},
		MaxStreams:   4,
		StoreTimeout: 3 * time.Second,
	}
}

type watch struct {
	connID   string
	streamID string
	engine   *reveal.Engine
	out      *outbox
	ctx      context.Context
	cancel   context.CancelFunc
	started  time.Time
	finished chan struct{}
}

// Manager owns every running watch.
type Manager struct {
	sender   Sender
	sources  SourceFactory
	opts     Options
	sessions SessionTracker
	recorder Recorder
	log      *zap.Logger

	mu      sync.Mutex
	watches map[string]map[string]*watch // conn -> stream -> watch
	sound   map[string]*sfx.Toggle
	closed  bool
}

// NewManager creates a Manager.
func NewManager(sender Sender, sources SourceFactory, opts Options, logger *zap.Logger) *Manager {
	def := DefaultOptions()
	if opts.Engine == nil {
		opts.Engine = def.Engine
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = def.MaxStreams
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sender:  sender,
		sources: sources,
		opts:    opts,
		log:     logger.Named("watch"),
		watches: make(map[string]map[string]*watch),
		sound:   make(map[string]*sfx.Toggle),
	}
}

// SetSessions mirrors watches into a session store.
func (m *Manager) SetSessions(s SessionTracker) {
	m.sessions = s
}

// SetRecorder stores a transcript of every completed reveal.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// Start begins revealing msg.StreamID on connID and returns the cadence in
// use. Watching a stream the connection already watches restarts it.
func (m *Manager) Start(connID string, msg protocol.WatchMsg) (time.Duration, error) {
	if prev := m.lookup(connID, msg.StreamID); prev != nil {
		m.stop(prev)
	}

	cfg := m.opts.Engine(msg.Priority)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	streams := m.watches[connID]
	if len(streams) >= m.opts.MaxStreams {
		m.mu.Unlock()
		return 0, ErrTooManyStreams
	}
	if streams == nil {
		streams = make(map[string]*watch)
		m.watches[connID] = streams
	}
	toggle := m.toggleLocked(connID)

	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{
		connID:   connID,
		streamID: msg.StreamID,
		out:      newOutbox(),
		ctx:      ctx,
		cancel:   cancel,
		started:  time.Now(),
		finished: make(chan struct{}),
	}
	cfg.Sound = toggle
	w.engine = reveal.NewEngine(cfg,
		reveal.WithLogger(m.log.With(zap.String("session", connID), zap.String("stream_id", msg.StreamID))),
		reveal.WithEffectSink(reveal.EffectSinkFunc(func(events []reveal.SideEffectEvent) {
			m.pushEffects(w, events)
		})),
	)
	streams[msg.StreamID] = w
	m.mu.Unlock()

	metrics.ActiveReveals.Inc()
	w.engine.Subscribe(w.out.snapshot)
	go w.out.run(func(s reveal.Snapshot) []byte {
		return m.encode(protocol.TypeReveal, protocol.RevealMsg{StreamID: w.streamID, Snapshot: s})
	}, func(data []byte) {
		if err := m.sender.SendMessage(connID, data); err != nil {
			m.log.Debug("push failed", zap.String("session", connID), zap.Error(err))
		}
	})

	if m.sessions != nil {
		sctx, scancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
		if err := m.sessions.AddStream(sctx, connID, msg.StreamID); err != nil {
			m.log.Warn("session add stream failed", zap.String("session", connID), zap.Error(err))
		}
		scancel()
	}

	go m.run(w, m.sources(connID, msg))

	m.log.Info("watch started",
		zap.String("session", connID), zap.String("stream_id", msg.StreamID),
		zap.Bool("priority", msg.Priority), zap.Duration("speed", cfg.Speed))
	return cfg.Speed, nil
}

// Skip reveals the rest of a watched stream at once.
func (m *Manager) Skip(connID, streamID string) error {
	w := m.lookup(connID, streamID)
	if w == nil {
		return ErrNotWatching
	}
	w.engine.Skip()
	return nil
}

// Stop ends a watch without completing it. No complete message is sent.
func (m *Manager) Stop(connID, streamID string) error {
	w := m.lookup(connID, streamID)
	if w == nil {
		return ErrNotWatching
	}
	m.stop(w)
	return nil
}

// StopAll ends every watch of a connection and forgets its sound setting.
// It is the disconnect hook.
func (m *Manager) StopAll(connID string) {
	m.mu.Lock()
	ws := make([]*watch, 0, len(m.watches[connID]))
	for _, w := range m.watches[connID] {
		ws = append(ws, w)
	}
	delete(m.sound, connID)
	m.mu.Unlock()

	for _, w := range ws {
		m.stop(w)
	}
}

// SetSound turns side-effects on or off for every watch of a connection,
// including running ones.
func (m *Manager) SetSound(connID string, enabled bool) {
	m.mu.Lock()
	m.toggleLocked(connID).Set(enabled)
	m.mu.Unlock()

	if m.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
		defer cancel()
		if err := m.sessions.SetSound(ctx, connID, enabled); err != nil {
			m.log.Warn("session set sound failed", zap.String("session", connID), zap.Error(err))
		}
	}
}

// Streams returns the streams connID is watching.
func (m *Manager) Streams(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watches[connID]))
	for id := range m.watches[connID] {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns the current state of a watched stream.
func (m *Manager) Snapshot(connID, streamID string) (reveal.Snapshot, bool) {
	w := m.lookup(connID, streamID)
	if w == nil {
		return reveal.Snapshot{}, false
	}
	return w.engine.Snapshot(), true
}

// Close stops every watch and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conns := make([]string, 0, len(m.watches))
	for id := range m.watches {
		conns = append(conns, id)
	}
	m.mu.Unlock()

	for _, id := range conns {
		m.StopAll(id)
	}
}

func (m *Manager) lookup(connID, streamID string) *watch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watches[connID][streamID]
}

func (m *Manager) toggleLocked(connID string) *sfx.Toggle {
	t, ok := m.sound[connID]
	if !ok {
		t = &sfx.Toggle{}
		m.sound[connID] = t
	}
	return t
}

func (m *Manager) stop(w *watch) {
	w.cancel()
	<-w.finished
}

// run feeds the engine from src until the reveal completes or the watch is
// stopped, then tears everything down.
func (m *Manager) run(w *watch, src transport.Source) {
	defer close(w.finished)

	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := src.Stream(w.ctx, w.engine); err != nil && w.ctx.Err() == nil {
			m.log.Info("transport ended with error",
				zap.String("session", w.connID), zap.String("stream_id", w.streamID), zap.Error(err))
		}
	}()

	select {
	case <-w.engine.Done():
		// The final snapshot is already queued; complete goes after it.
		m.completed(w)
	case <-w.ctx.Done():
		m.log.Debug("watch stopped", zap.String("session", w.connID), zap.String("stream_id", w.streamID))
	}

	w.cancel()
	<-streamDone
	w.engine.Close()
	w.out.close()
	metrics.ActiveReveals.Dec()

	m.mu.Lock()
	if streams := m.watches[w.connID]; streams[w.streamID] == w {
		delete(streams, w.streamID)
		if len(streams) == 0 {
			delete(m.watches, w.connID)
		}
	}
	m.mu.Unlock()

	if m.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
		if _, err := m.sessions.RemoveStream(ctx, w.connID, w.streamID); err != nil {
			m.log.Warn("session remove stream failed", zap.String("session", w.connID), zap.Error(err))
		}
		cancel()
	}
}

func (m *Manager) completed(w *watch) {
	r, ok := w.engine.Result()
	if !ok {
		return
	}
	elapsed := time.Since(w.started)

	metrics.RevealsCompleted.WithLabelValues(string(r.Status), strconv.FormatBool(r.Skipped)).Inc()
	metrics.RevealDuration.Observe(elapsed.Seconds())

	msg := protocol.CompleteMsg{
		StreamID:  w.streamID,
		Status:    string(r.Status),
		Skipped:   r.Skipped,
		Truncated: r.Status == reveal.StatusTruncated,
		Revealed:  r.Revealed,
		Total:     r.Total,
	}
	if data := m.encode(protocol.TypeComplete, msg); data != nil {
		w.out.push(data)
	}

	m.log.Info("reveal complete",
		zap.String("session", w.connID), zap.String("stream_id", w.streamID),
		zap.String("status", string(r.Status)), zap.Bool("skipped", r.Skipped),
		zap.Int("revealed", r.Revealed), zap.Int("total", r.Total), zap.Duration("elapsed", elapsed))

	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.StoreTimeout)
		defer cancel()
		if err := m.recorder.Record(ctx, transcript.FromResult(w.streamID, w.connID, r, elapsed)); err != nil {
			m.log.Warn("record transcript failed", zap.String("stream_id", w.streamID), zap.Error(err))
		}
	}
}

func (m *Manager) pushEffects(w *watch, events []reveal.SideEffectEvent) {
	data := m.encode(protocol.TypeEffect, protocol.EffectMsg{StreamID: w.streamID, Effects: events})
	if data == nil {
		return
	}
	if w.out.effect(data) {
		metrics.EffectsTotal.WithLabelValues("sent").Add(float64(len(events)))
	} else {
		metrics.EffectsTotal.WithLabelValues("dropped").Add(float64(len(events)))
	}
}

func (m *Manager) encode(msgType string, payload interface{}) []byte {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		m.log.Error("encode message", zap.String("type", msgType), zap.Error(err))
		return nil
	}
	return data
}
