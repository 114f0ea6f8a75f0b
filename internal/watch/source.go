package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/reveal/internal/protocol"
	"github.com/whisper/reveal/internal/relay"
	"github.com/whisper/reveal/internal/transport"
)

// StreamBus is the slice of the NATS client used by NATSSources.
// *messaging.NATSClient implements it.
type StreamBus interface {
	transport.StreamSubscriber
	PublishStreamRequest(data []byte) error
}

// NATSSources returns a SourceFactory that follows streams on NATS. When a
// watch carries Text, a relay request for it is published once the
// subscription is live, so no frame can be missed.
func NATSSources(bus StreamBus, codec transport.Codec, idle time.Duration, logger *zap.Logger) SourceFactory {
	return func(connID string, msg protocol.WatchMsg) transport.Source {
		src := &transport.NATSSource{
			Sub:         bus,
			StreamID:    msg.StreamID,
			Key:         connID + ":" + msg.StreamID,
			Codec:       codec,
			IdleTimeout: idle,
			Log:         logger,
		}
		if msg.Text != "" {
			src.OnSubscribed = func() error {
				data, err := json.Marshal(relay.Request{StreamID: msg.StreamID, Text: msg.Text})
				if err != nil {
					return fmt.Errorf("watch: encode relay request: %w", err)
				}
				return bus.PublishStreamRequest(data)
			}
		}
		return src
	}
}
