package relay

import (
	"fmt"

	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/transport"
)

// FramePublisher is the slice of the NATS client a Publisher needs.
type FramePublisher interface {
	PublishStreamFrame(streamID string, data []byte) error
}

// Publisher encodes frames and publishes them on reveal.stream.<id>.
type Publisher struct {
	nats  FramePublisher
	codec transport.Codec
}

// NewPublisher creates a Publisher. A nil codec selects JSON.
func NewPublisher(nats FramePublisher, codec transport.Codec) *Publisher {
	if codec == nil {
		codec = transport.JSONCodec{}
	}
	return &Publisher{nats: nats, codec: codec}
}

// Publish sends one frame to streamID.
func (p *Publisher) Publish(streamID string, f transport.Frame) error {
	data, err := p.codec.Encode(f)
	if err != nil {
		return fmt.Errorf("relay: encode frame: %w", err)
	}
	if err := p.nats.PublishStreamFrame(streamID, data); err != nil {
		return fmt.Errorf("relay: publish to %s: %w", streamID, err)
	}
	metrics.FramesTotal.WithLabelValues("published", string(f.Type)).Inc()
	return nil
}

// Emitter returns an Emit bound to streamID.
func (p *Publisher) Emitter(streamID string) Emit {
	return func(f transport.Frame) error { return p.Publish(streamID, f) }
}
