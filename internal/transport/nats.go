package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/reveal"
)

// StreamSubscriber is the slice of the NATS client a NATSSource needs.
// *messaging.NATSClient implements it.
type StreamSubscriber interface {
	SubscribeToStream(streamID, key string, handler func(data []byte)) error
	UnsubscribeFromStream(key string) error
}

// NATSSource follows reveal.stream.<StreamID> on NATS.
type NATSSource struct {
	Sub      StreamSubscriber
	StreamID string
	// Key identifies the subscription; several watchers of one stream need
	// distinct keys.
	Key   string
	Codec Codec
	// IdleTimeout ends the stream with a recoverable error when no frame
	// arrives for that long. Zero disables it.
	IdleTimeout time.Duration
	// OnSubscribed runs once the subscription is live, e.g. to ask a relay
	// to start publishing. An error ends the stream.
	OnSubscribed func() error
	Log          *zap.Logger
}

// Stream subscribes, waits for a terminal frame, idle timeout or ctx, and
// unsubscribes.
func (s *NATSSource) Stream(ctx context.Context, ing Ingestor) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	codec := s.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	key := s.Key
	if key == "" {
		key = s.StreamID
	}

	var (
		finished atomic.Bool
		once     sync.Once
		ended    = make(chan struct{})
		activity = make(chan struct{}, 1)
	)
	finish := func() { once.Do(func() { close(ended) }) }

	err := s.Sub.SubscribeToStream(s.StreamID, key, func(data []byte) {
		if finished.Load() {
			return
		}
		select {
		case activity <- struct{}{}:
		default:
		}
		if Deliver(data, codec, ing, log) {
			finished.Store(true)
			finish()
		}
	})
	if err != nil {
		ing.OnError(&reveal.TransportError{Reason: "subscribe failed", Err: err})
		return err
	}
	defer func() {
		if err := s.Sub.UnsubscribeFromStream(key); err != nil {
			log.Debug("unsubscribe stream", zap.String("stream_id", s.StreamID), zap.Error(err))
		}
	}()

	if s.OnSubscribed != nil {
		if err := s.OnSubscribed(); err != nil {
			if finished.CompareAndSwap(false, true) {
				ing.OnError(&reveal.TransportError{Reason: "stream request failed", Err: err})
			}
			return err
		}
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if s.IdleTimeout > 0 {
		timer = time.NewTimer(s.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			finished.Store(true)
			return ctx.Err()
		case <-ended:
			return nil
		case <-activity:
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.IdleTimeout)
			}
		case <-idle:
			if finished.CompareAndSwap(false, true) {
				log.Info("stream idle, giving up",
					zap.String("stream_id", s.StreamID), zap.Duration("timeout", s.IdleTimeout))
				ing.OnError(&reveal.TransportError{Reason: "stream idle"})
			}
			return nil
		}
	}
}
