package reveal

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	created int
}

type fakeTimer struct {
	clk    *fakeClock
	at     time.Time
	c      chan time.Time
	active bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clk: f, at: f.now.Add(d), c: make(chan time.Time, 1), active: true}
	f.timers = append(f.timers, t)
	f.created++
	return t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	pending := f.timers[:0]
	for _, t := range f.timers {
		if !t.active {
			continue
		}
		if !t.at.After(f.now) {
			t.active = false
			t.c <- f.now
			continue
		}
		pending = append(pending, t)
	}
	f.timers = pending
}

func (f *fakeClock) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

type recordingSink struct {
	mu     sync.Mutex
	events []SideEffectEvent
}

func (r *recordingSink) Emit(events []SideEffectEvent) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

func (r *recordingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func fastConfig(calls *atomic.Int32) Config {
	cfg := DefaultConfig()
	cfg.Speed = time.Millisecond
	cfg.Stagger = 0
	if calls != nil {
		cfg.OnComplete = func(Result) { calls.Add(1) }
	}
	return cfg
}

func waitDone(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("engine did not complete, snapshot %+v", e.Snapshot())
	}
}

func TestEngineRevealsStream(t *testing.T) {
	var calls atomic.Int32
	sink := &recordingSink{}
	e := NewEngine(fastConfig(&calls), WithEffectSink(sink), WithLogger(zaptest.NewLogger(t)))
	defer e.Close()

	var (
		mu   sync.Mutex
		seen []Snapshot
	)
	unsubscribe := e.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsubscribe()

	e.OnChunk("Hel")
	e.OnChunk("lo wo")
	e.OnChunk("rld")
	e.OnTerminate()
	waitDone(t, e)

	snap := e.Snapshot()
	assert.Equal(t, "Hello world", snap.DisplayedText)
	assert.Equal(t, PhaseComplete, snap.Phase)
	assert.False(t, snap.CursorVisible)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 3, sink.Len(), "keystrokes at 3, 6 and 9")

	res, ok := e.Result()
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Hello world", res.Text)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[len(seen)-1].Done())
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Revealed, seen[i-1].Revealed, "cursor went backwards")
	}
}

func TestEngineSkipIsImmediate(t *testing.T) {
	var calls atomic.Int32
	clk := newFakeClock()
	e := NewEngine(fastConfig(&calls), WithClock(clk))
	defer e.Close()

	e.OnChunk(strings.Repeat("x", 50))
	e.Sync()
	require.Equal(t, 1, clk.Created(), "first chunk arms one tick")

	e.Skip()
	snap := e.Snapshot()
	assert.Equal(t, 50, snap.Revealed)
	assert.True(t, snap.Skipped)
	assert.Equal(t, PhaseComplete, snap.Phase)

	// The cancelled tick never fires and nothing re-arms.
	clk.Advance(time.Second)
	e.Sync()
	assert.Equal(t, 1, clk.Created())

	e.Skip()
	assert.Equal(t, snap, e.Snapshot())
	assert.EqualValues(t, 1, calls.Load())
}

func TestEngineTickDrivenByClock(t *testing.T) {
	clk := newFakeClock()
	cfg := fastConfig(nil)
	cfg.Speed = 10 * time.Millisecond
	e := NewEngine(cfg, WithClock(clk))
	defer e.Close()

	e.OnChunk("abcdef")
	e.OnTerminate()
	e.Sync()
	assert.Equal(t, 0, e.Snapshot().Revealed)

	require.Eventually(t, func() bool {
		clk.Advance(10 * time.Millisecond)
		return e.Snapshot().Done()
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "abcdef", e.Snapshot().DisplayedText)
}

func TestEngineTerminateBeforeChunk(t *testing.T) {
	clk := newFakeClock()
	e := NewEngine(fastConfig(nil), WithClock(clk))
	defer e.Close()

	e.OnTerminate()
	waitDone(t, e)

	assert.Equal(t, "", e.Snapshot().DisplayedText)
	assert.Equal(t, 0, clk.Created(), "no tick should be scheduled")
}

func TestEngineFatalError(t *testing.T) {
	clk := newFakeClock()
	e := NewEngine(fastConfig(nil), WithClock(clk))
	defer e.Close()

	e.OnChunk("some text that will not finish")
	e.OnError(&TransportError{Reason: "corrupt frame", Fatal: true})
	waitDone(t, e)

	snap := e.Snapshot()
	assert.True(t, snap.Truncated)
	assert.Equal(t, "", snap.DisplayedText)

	res, ok := e.Result()
	require.True(t, ok)
	assert.Equal(t, StatusTruncated, res.Status)
}

func TestEngineSinkPanicIsContained(t *testing.T) {
	sink := EffectSinkFunc(func([]SideEffectEvent) { panic("audio device gone") })
	e := NewEngine(fastConfig(nil), WithEffectSink(sink))
	defer e.Close()

	e.OnChunk("hello world")
	e.OnTerminate()
	waitDone(t, e)

	assert.Equal(t, "hello world", e.Snapshot().DisplayedText)
}

func TestEngineCloseDetaches(t *testing.T) {
	var calls atomic.Int32
	clk := newFakeClock()
	e := NewEngine(fastConfig(&calls), WithClock(clk))

	var notified atomic.Int32
	e.Subscribe(func(Snapshot) { notified.Add(1) })

	e.OnChunk("abc")
	e.Sync()
	before := notified.Load()

	e.Close()
	e.Close()

	e.OnChunk("def")
	e.OnTerminate()
	e.Skip()
	clk.Advance(time.Second)

	assert.Equal(t, before, notified.Load())
	assert.EqualValues(t, 0, calls.Load())
	_, ok := e.Result()
	assert.False(t, ok)
	select {
	case <-e.Done():
		t.Fatal("done closed without completion")
	default:
	}
}

func TestEngineUnsubscribe(t *testing.T) {
	e := NewEngine(fastConfig(nil), WithClock(newFakeClock()))
	defer e.Close()

	var notified atomic.Int32
	unsubscribe := e.Subscribe(func(Snapshot) { notified.Add(1) })
	e.OnChunk("a")
	e.Sync()
	require.EqualValues(t, 1, notified.Load())

	unsubscribe()
	e.Skip()
	assert.EqualValues(t, 1, notified.Load())
}
