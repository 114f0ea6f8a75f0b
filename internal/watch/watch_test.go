package watch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/whisper/reveal/internal/protocol"
	"github.com/whisper/reveal/internal/ratelimit"
	"github.com/whisper/reveal/internal/relay"
	"github.com/whisper/reveal/internal/reveal"
	"github.com/whisper/reveal/internal/transcript"
	"github.com/whisper/reveal/internal/transport"
	"github.com/whisper/reveal/internal/ws"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type outMsg struct {
	conn string
	body map[string]interface{}
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []outMsg
}

func (f *fakeSender) SendMessage(connID string, data []byte) error {
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, outMsg{conn: connID, body: body})
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) ofType(typ string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range f.msgs {
		if m.body["type"] == typ {
			out = append(out, m.body)
		}
	}
	return out
}

func (f *fakeSender) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.body["type"].(string)
	}
	return out
}

// scriptSource delivers chunks, then either terminates or waits for
// cancellation.
type scriptSource struct {
	chunks    []string
	terminate bool
}

func (s scriptSource) Stream(ctx context.Context, ing transport.Ingestor) error {
	for _, c := range s.chunks {
		ing.OnChunk(c)
	}
	if s.terminate {
		ing.OnTerminate()
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeTracker struct {
	mu      sync.Mutex
	added   []string
	removed []string
	sound   map[string]bool
}

func (f *fakeTracker) AddStream(_ context.Context, sid, streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, sid+"/"+streamID)
	return nil
}

func (f *fakeTracker) RemoveStream(_ context.Context, sid, streamID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sid+"/"+streamID)
	return 0, nil
}

func (f *fakeTracker) SetSound(_ context.Context, sid string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sound == nil {
		f.sound = make(map[string]bool)
	}
	f.sound[sid] = enabled
	return nil
}

func (f *fakeTracker) removedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []transcript.Transcript
}

func (f *fakeRecorder) Record(_ context.Context, t transcript.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, t)
	return nil
}

func (f *fakeRecorder) all() []transcript.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcript.Transcript(nil), f.saved...)
}

func fastOptions(speed time.Duration) Options {
	return Options{
		Engine: func(bool) reveal.Config {
			cfg := reveal.DefaultConfig()
			cfg.Speed = speed
			return cfg
		},
		MaxStreams: 2,
	}
}

func newManager(t *testing.T, src transport.Source, speed time.Duration) (*Manager, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	m := NewManager(sender, func(string, protocol.WatchMsg) transport.Source { return src },
		fastOptions(speed), zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	return m, sender
}

func waitComplete(t *testing.T, sender *fakeSender) map[string]interface{} {
	t.Helper()
	require.Eventually(t, func() bool { return len(sender.ofType(protocol.TypeComplete)) == 1 },
		2*time.Second, 2*time.Millisecond)
	return sender.ofType(protocol.TypeComplete)[0]
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

func TestWatchRunsToCompletion(t *testing.T) {
	m, sender := newManager(t, scriptSource{chunks: []string{"Hello, ", "world"}, terminate: true}, time.Millisecond)
	tracker := &fakeTracker{}
	rec := &fakeRecorder{}
	m.SetSessions(tracker)
	m.SetRecorder(rec)

	speed, err := m.Start("c1", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, speed)

	done := waitComplete(t, sender)
	assert.Equal(t, "success", done["status"])
	assert.Equal(t, false, done["skipped"])
	assert.Equal(t, float64(12), done["revealed"])

	// The last reveal before completion shows the whole text.
	types := sender.types()
	require.Equal(t, protocol.TypeComplete, types[len(types)-1])
	reveals := sender.ofType(protocol.TypeReveal)
	require.NotEmpty(t, reveals)
	last := reveals[len(reveals)-1]["snapshot"].(map[string]interface{})
	assert.Equal(t, "Hello, world", last["displayed_text"])
	assert.Equal(t, "complete", last["phase"])

	require.Eventually(t, func() bool { return tracker.removedCount() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, m.Streams("c1"))
	assert.Equal(t, []string{"c1/s1"}, tracker.added)

	saved := rec.all()
	require.Len(t, saved, 1)
	assert.Equal(t, "s1", saved[0].StreamID)
	assert.Equal(t, "c1", saved[0].SessionID)
	assert.Equal(t, "Hello, world", saved[0].Text)
}

func TestWatchSkip(t *testing.T) {
	text := "a long answer that would take ages"
	m, sender := newManager(t, scriptSource{chunks: []string{text}}, time.Hour)

	_, err := m.Start("c1", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		snap, ok := m.Snapshot("c1", "s1")
		return ok && snap.Total == len(text)
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Skip("c1", "s1"))

	done := waitComplete(t, sender)
	assert.Equal(t, true, done["skipped"])
	assert.Equal(t, "success", done["status"])
	assert.Equal(t, float64(len(text)), done["revealed"])

	assert.ErrorIs(t, m.Skip("c1", "nope"), ErrNotWatching)
}

func TestWatchFatalErrorTruncates(t *testing.T) {
	src := sourceFunc(func(ctx context.Context, ing transport.Ingestor) error {
		ing.OnChunk("partial")
		ing.OnError(&reveal.TransportError{Reason: "malformed frame", Fatal: true})
		return nil
	})
	m, sender := newManager(t, src, time.Hour)

	_, err := m.Start("c1", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)

	done := waitComplete(t, sender)
	assert.Equal(t, "truncated", done["status"])
	assert.Equal(t, true, done["truncated"])
	assert.Equal(t, float64(0), done["revealed"])
	assert.Equal(t, float64(7), done["total"])
}

func TestStopSendsNoComplete(t *testing.T) {
	m, sender := newManager(t, scriptSource{chunks: []string{"hi"}}, time.Hour)

	_, err := m.Start("c1", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)
	require.NoError(t, m.Stop("c1", "s1"))

	assert.Empty(t, sender.ofType(protocol.TypeComplete))
	assert.Empty(t, m.Streams("c1"))
	assert.ErrorIs(t, m.Stop("c1", "s1"), ErrNotWatching)
}

func TestRewatchRestarts(t *testing.T) {
	m, _ := newManager(t, scriptSource{chunks: []string{"hi"}}, time.Hour)

	_, err := m.Start("c1", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)
	_, err = m.Start("c1", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, m.Streams("c1"))
}

func TestMaxStreamsAndStopAll(t *testing.T) {
	m, _ := newManager(t, scriptSource{chunks: []string{"x"}}, time.Hour)

	for _, id := range []string{"a", "b"} {
		_, err := m.Start("c1", protocol.WatchMsg{StreamID: id})
		require.NoError(t, err)
	}
	_, err := m.Start("c1", protocol.WatchMsg{StreamID: "c"})
	assert.ErrorIs(t, err, ErrTooManyStreams)

	_, err = m.Start("c2", protocol.WatchMsg{StreamID: "a"})
	require.NoError(t, err, "the limit is per connection")

	m.StopAll("c1")
	assert.Empty(t, m.Streams("c1"))
	assert.Len(t, m.Streams("c2"), 1)
}

func TestStartAfterClose(t *testing.T) {
	m, _ := newManager(t, scriptSource{}, time.Hour)
	m.Close()
	_, err := m.Start("c1", protocol.WatchMsg{StreamID: "s1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSoundToggle(t *testing.T) {
	src := scriptSource{chunks: []string{"abcdefghi"}, terminate: true}

	m, sender := newManager(t, src, time.Millisecond)
	_, err := m.Start("loud", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)
	waitComplete(t, sender)
	assert.NotEmpty(t, sender.ofType(protocol.TypeEffect))

	m2, sender2 := newManager(t, src, time.Millisecond)
	tracker := &fakeTracker{}
	m2.SetSessions(tracker)
	m2.SetSound("quiet", false)
	_, err = m2.Start("quiet", protocol.WatchMsg{StreamID: "s1"})
	require.NoError(t, err)
	waitComplete(t, sender2)
	assert.Empty(t, sender2.ofType(protocol.TypeEffect))
	assert.Equal(t, false, tracker.sound["quiet"])
}

type sourceFunc func(ctx context.Context, ing transport.Ingestor) error

func (f sourceFunc) Stream(ctx context.Context, ing transport.Ingestor) error { return f(ctx, ing) }

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string, ratelimit.Rule) (bool, error) { return f.allow, nil }
func (f fakeLimiter) RetryAfter(context.Context, string, ratelimit.Rule) int     { return 7 }

func TestHandlers(t *testing.T) {
	m, sender := newManager(t, scriptSource{chunks: []string{"x"}}, time.Hour)
	h := &Handlers{Manager: m, Log: zaptest.NewLogger(t)}
	d := ws.NewMessageDispatcher(nil)
	h.Register(d)
	conn := &ws.Connection{ID: "c1"}

	h.handleWatch(conn, protocol.WatchMsg{StreamID: "s1", Priority: true})
	watching := sender.ofType(protocol.TypeWatching)
	require.Len(t, watching, 1)
	assert.Equal(t, "s1", watching[0]["stream_id"])
	assert.Equal(t, float64(time.Hour.Milliseconds()), watching[0]["speed_ms"])

	h.handleSound(conn, protocol.SoundMsg{Enabled: false})
	h.handleUnwatch(conn, protocol.UnwatchMsg{StreamID: "s1"})
	assert.Empty(t, m.Streams("c1"))

	h.handleSkip(conn, protocol.SkipMsg{StreamID: "s1"})
	errs := sender.ofType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeNotWatching, errs[0]["code"])
}

func TestHandlersRateLimited(t *testing.T) {
	m, sender := newManager(t, scriptSource{}, time.Hour)
	h := &Handlers{Manager: m, Limiter: fakeLimiter{allow: false}}
	h.Register(ws.NewMessageDispatcher(nil))

	h.handleWatch(&ws.Connection{ID: "c1"}, protocol.WatchMsg{StreamID: "s1"})
	limited := sender.ofType(protocol.TypeRateLimited)
	require.Len(t, limited, 1)
	assert.Equal(t, float64(7), limited[0]["retry_after"])
	assert.Empty(t, m.Streams("c1"))
}

func TestHandlersTooManyStreams(t *testing.T) {
	m, sender := newManager(t, scriptSource{}, time.Hour)
	h := &Handlers{Manager: m, Limiter: fakeLimiter{allow: true}}
	h.Register(ws.NewMessageDispatcher(nil))
	conn := &ws.Connection{ID: "c1"}

	for _, id := range []string{"a", "b", "c"} {
		h.handleWatch(conn, protocol.WatchMsg{StreamID: id})
	}
	errs := sender.ofType(protocol.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeTooManyStream, errs[0]["code"])
}

// ---------------------------------------------------------------------------
// NATS sources
// ---------------------------------------------------------------------------

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func([]byte)
	requests [][]byte
}

func (b *fakeBus) SubscribeToStream(_, key string, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string]func([]byte))
	}
	b.handlers[key] = handler
	return nil
}

func (b *fakeBus) UnsubscribeFromStream(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, key)
	return nil
}

// PublishStreamRequest answers like a relay would, on the subscribed key.
func (b *fakeBus) PublishStreamRequest(data []byte) error {
	b.mu.Lock()
	b.requests = append(b.requests, data)
	var req relay.Request
	_ = json.Unmarshal(data, &req)
	h := b.handlers["c1:"+req.StreamID]
	b.mu.Unlock()

	go func() {
		for _, f := range []transport.Frame{transport.Chunk(req.Text), transport.Done()} {
			payload, _ := transport.JSONCodec{}.Encode(f)
			h(payload)
		}
	}()
	return nil
}

func TestNATSSourcesRequestAfterSubscribe(t *testing.T) {
	bus := &fakeBus{}
	sender := &fakeSender{}
	m := NewManager(sender, NATSSources(bus, transport.JSONCodec{}, time.Second, nil), fastOptions(time.Millisecond), nil)
	defer m.Close()

	_, err := m.Start("c1", protocol.WatchMsg{StreamID: "s1", Text: "relayed"})
	require.NoError(t, err)

	done := waitComplete(t, sender)
	assert.Equal(t, "success", done["status"])
	assert.Equal(t, float64(7), done["total"])

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.requests, 1)
	assert.JSONEq(t, `{"stream_id":"s1","text":"relayed"}`, string(bus.requests[0]))
}
