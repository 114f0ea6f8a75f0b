package sfx

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/reveal/internal/reveal"
)

func TestToggle(t *testing.T) {
	var tg Toggle
	assert.True(t, tg.Enabled(), "zero value is enabled")

	tg.Set(false)
	assert.False(t, tg.Enabled())

	assert.True(t, tg.Flip())
	assert.True(t, tg.Enabled())
	assert.False(t, tg.Flip())
}

func TestToggleAsSwitch(t *testing.T) {
	var tg Toggle
	tg.Set(false)

	cfg := reveal.DefaultConfig()
	cfg.Sound = &tg
	s := reveal.NewSession(cfg, nil)
	now := time.Now()
	s.OnChunk("abcdef", now)

	assert.Empty(t, s.Tick(now.Add(6*cfg.Speed)))
}

func TestBellSink(t *testing.T) {
	var buf bytes.Buffer
	b := NewBellSink(&buf)

	require.NoError(t, b.Play(context.Background(), reveal.EffectKeystroke))
	require.NoError(t, b.Play(context.Background(), reveal.EffectKeystroke))
	assert.Equal(t, "\a\a", buf.String())
}

type countingSink struct {
	mu     sync.Mutex
	played []reveal.Effect
}

func (c *countingSink) Play(_ context.Context, e reveal.Effect) error {
	c.mu.Lock()
	c.played = append(c.played, e)
	c.mu.Unlock()
	return nil
}

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.played)
}

func unlimited() PlayerConfig {
	cfg := DefaultPlayerConfig()
	cfg.RatePerSec = 0
	return cfg
}

func TestPlayerPlaysInOrder(t *testing.T) {
	sink := &countingSink{}
	p := NewPlayer(sink, unlimited(), nil)
	defer p.Close()

	p.Emit([]reveal.SideEffectEvent{
		{Effect: "a", Position: 3},
		{Effect: "b", Position: 6, Delay: 5 * time.Millisecond},
	})

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []reveal.Effect{"a", "b"}, sink.played)
}

func TestPlayerDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var played atomic.Int32
	sink := SinkFunc(func(context.Context, reveal.Effect) error {
		<-release
		played.Add(1)
		return nil
	})

	cfg := unlimited()
	cfg.QueueSize = 2
	cfg.PlayTimeout = 0
	p := NewPlayer(sink, cfg, nil)

	events := make([]reveal.SideEffectEvent, 10)
	for i := range events {
		events[i] = reveal.SideEffectEvent{Effect: reveal.EffectKeystroke, Position: 3 * (i + 1)}
	}

	done := make(chan struct{})
	go func() {
		p.Emit(events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}

	close(release)
	p.Close()
	assert.LessOrEqual(t, played.Load(), int32(3), "one in flight plus a full queue")
}

func TestPlayerSwallowsFailures(t *testing.T) {
	var calls atomic.Int32
	sink := SinkFunc(func(context.Context, reveal.Effect) error {
		if calls.Add(1) == 1 {
			panic("device unplugged")
		}
		return errors.New("no audio device")
	})
	p := NewPlayer(sink, unlimited(), nil)
	defer p.Close()

	p.Emit([]reveal.SideEffectEvent{{Effect: "a"}, {Effect: "b"}, {Effect: "c"}})
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
}

func TestPlayerRateLimited(t *testing.T) {
	sink := &countingSink{}
	cfg := DefaultPlayerConfig()
	cfg.RatePerSec = 0.001
	cfg.Burst = 2
	p := NewPlayer(sink, cfg, nil)

	p.Emit([]reveal.SideEffectEvent{{Effect: "a"}, {Effect: "b"}, {Effect: "c"}, {Effect: "d"}})
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	p.Close()
	assert.Equal(t, 2, sink.count())
}

func TestPlayerEmitAfterClose(t *testing.T) {
	sink := &countingSink{}
	p := NewPlayer(sink, unlimited(), nil)
	p.Close()
	p.Close()

	p.Emit([]reveal.SideEffectEvent{{Effect: "a"}})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestPlayerWithEngine(t *testing.T) {
	sink := &countingSink{}
	p := NewPlayer(sink, unlimited(), nil)
	defer p.Close()

	cfg := reveal.DefaultConfig()
	cfg.Speed = time.Millisecond
	cfg.Stagger = 0
	e := reveal.NewEngine(cfg, reveal.WithEffectSink(p))
	defer e.Close()

	e.OnChunk("twelve chars")
	e.OnTerminate()
	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reveal did not complete")
	}
	require.Eventually(t, func() bool { return sink.count() == 4 }, time.Second, time.Millisecond)
}
