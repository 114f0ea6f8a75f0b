package sfx

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/whisper/reveal/internal/reveal"
)

// Sink outputs one cue.
type Sink interface {
	Play(ctx context.Context, effect reveal.Effect) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, effect reveal.Effect) error

// Play calls f(ctx, effect).
func (f SinkFunc) Play(ctx context.Context, effect reveal.Effect) error { return f(ctx, effect) }

// BellSink rings the terminal bell on w for every cue.
type BellSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBellSink creates a BellSink writing to w.
func NewBellSink(w io.Writer) *BellSink {
	return &BellSink{w: w}
}

func (b *BellSink) Play(_ context.Context, _ reveal.Effect) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := io.WriteString(b.w, "\a"); err != nil {
		return fmt.Errorf("sfx: bell: %w", err)
	}
	return nil
}

// Discard accepts every cue and does nothing.
var Discard Sink = SinkFunc(func(context.Context, reveal.Effect) error { return nil })
