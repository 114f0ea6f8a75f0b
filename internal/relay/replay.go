package relay

import (
	"context"
	"time"

	"github.com/whisper/reveal/internal/transport"
)

// Options controls how a text is replayed as a stream.
type Options struct {
	MinChunk int           `yaml:"min_chunk" env:"MIN_CHUNK"`
	MaxChunk int           `yaml:"max_chunk" env:"MAX_CHUNK"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"` // mean delay between chunks
	Jitter   time.Duration `yaml:"jitter" env:"JITTER"`
	Seed     uint64        `yaml:"seed" env:"SEED"`

	// FailAfter ends the stream with an error frame after that many chunks
	// instead of a done frame. Zero disables it.
	FailAfter int  `yaml:"fail_after" env:"FAIL_AFTER"`
	FailFatal bool `yaml:"fail_fatal" env:"FAIL_FATAL"`
}

// DefaultOptions returns pacing that resembles a model backend.
func DefaultOptions() Options {
	return Options{
		MinChunk: 2,
		MaxChunk: 12,
		Interval: 60 * time.Millisecond,
		Jitter:   40 * time.Millisecond,
		Seed:     1,
	}
}

// Emit sends one frame to the consumer.
type Emit func(transport.Frame) error

// Replay streams text through emit as chunk frames followed by a done
// frame. It stops early when ctx is done or emit fails.
func Replay(ctx context.Context, text string, emit Emit, opts Options) error {
	chunker := NewChunker(opts.MinChunk, opts.MaxChunk, opts.Seed)
	chunks := chunker.Split(text)

	for i, chunk := range chunks {
		if opts.FailAfter > 0 && i == opts.FailAfter {
			return emit(transport.Failure("upstream failed", opts.FailFatal))
		}
		if i > 0 {
			delay := time.Duration(chunker.jitter(int64(opts.Interval), int64(opts.Jitter)))
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		if err := emit(transport.Chunk(chunk)); err != nil {
			return err
		}
	}
	return emit(transport.Done())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ReplaySource replays Text straight into an ingestor. It backs the local
// play command and tests.
type ReplaySource struct {
	Text    string
	Options Options
}

// Stream implements transport.Source.
func (s *ReplaySource) Stream(ctx context.Context, ing transport.Ingestor) error {
	return Replay(ctx, s.Text, func(f transport.Frame) error {
		transport.Apply(f, ing)
		return nil
	}, s.Options)
}
