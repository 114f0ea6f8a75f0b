// Package messaging provides a NATS client wrapper for pub/sub messaging
// between reveal services. It handles connection lifecycle, per-watcher
// stream subscriptions and the relay request channel.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subject patterns used across reveal services.
const (
	SubjectStream        = "reveal.stream"  // + .<stream_id>
	SubjectStreamRequest = "reveal.request" // relay replay requests
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	log  *zap.Logger
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        `yaml:"url" env:"URL"`                       // nats://localhost:4222
	Name          string        `yaml:"name" env:"NAME"`                     // client name for identification
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"RECONNECT_WAIT"` // time between reconnect attempts
	MaxReconnects int           `yaml:"max_reconnects" env:"MAX_RECONNECTS"` // -1 for infinite
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "reveal",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// StreamSubject returns the subject carrying frames for streamID.
func StreamSubject(streamID string) string {
	return SubjectStream + "." + streamID
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn: nc,
		log:  logger,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeToStream subscribes to reveal.stream.<streamID> for one watcher.
// The subscription is keyed by key so several watchers on the same server
// can follow the same stream without overwriting each other.
func (c *NATSClient) SubscribeToStream(streamID, key string, handler func(data []byte)) error {
	subject := StreamSubject(streamID)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs["streamsub:"+key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs["streamsub:"+key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromStream removes a watcher's stream subscription.
func (c *NATSClient) UnsubscribeFromStream(key string) error {
	return c.unsubscribe("streamsub:" + key)
}

// PublishStreamFrame publishes an encoded frame to reveal.stream.<streamID>.
func (c *NATSClient) PublishStreamFrame(streamID string, data []byte) error {
	return c.Publish(StreamSubject(streamID), data)
}

// PublishStreamRequest asks a relay to start streaming.
func (c *NATSClient) PublishStreamRequest(data []byte) error {
	return c.Publish(SubjectStreamRequest, data)
}

// SubscribeStreamRequest subscribes to relay requests.
func (c *NATSClient) SubscribeStreamRequest(handler func(data []byte)) error {
	return c.Subscribe(SubjectStreamRequest, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain subscription", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("connection drain", zap.Error(err))
	}

	c.log.Info("client closed")
}

// unsubscribe removes and unsubscribes from a specific key.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
