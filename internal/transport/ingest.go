package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/reveal"
)

// Ingestor receives transport events. *reveal.Engine implements it.
type Ingestor interface {
	OnChunk(text string)
	OnTerminate()
	OnError(err error)
}

// Source pushes one stream's events into an Ingestor. Stream returns once
// the stream has terminated, failed or ctx is done. A terminal event is
// always delivered before Stream returns, except on cancellation.
type Source interface {
	Stream(ctx context.Context, ing Ingestor) error
}

// Apply delivers f to ing and reports whether it ended the stream.
func Apply(f Frame, ing Ingestor) (terminal bool) {
	switch f.Type {
	case FrameChunk:
		ing.OnChunk(f.Text)
		return false
	case FrameDone:
		ing.OnTerminate()
		return true
	case FrameFailure:
		ing.OnError(&reveal.TransportError{Reason: f.Reason, Fatal: f.Fatal})
		return true
	default:
		return false
	}
}

// Deliver decodes data with codec and applies it. Corrupt framing is
// reported to ing as a fatal transport error; unknown frame types are
// skipped.
func Deliver(data []byte, codec Codec, ing Ingestor, log *zap.Logger) (terminal bool) {
	f, err := codec.Decode(data)
	if err != nil {
		if !IsFatalFrameError(err) {
			log.Debug("skipping frame", zap.Error(err))
			return false
		}
		log.Warn("corrupt frame", zap.Error(err), zap.Int("bytes", len(data)))
		ing.OnError(&reveal.TransportError{Reason: "malformed frame", Fatal: true, Err: err})
		return true
	}
	return Apply(f, ing)
}
