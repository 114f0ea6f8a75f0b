// Package client provides a WebSocket load test client for the reveal
// server. It connects with gobwas/ws (the same library the server uses),
// records the session id from session_created, and tracks per-connection
// performance metrics.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeWatch   = "watch"
	TypeUnwatch = "unwatch"
	TypeSkip    = "skip"
	TypeSound   = "sound"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeWatching       = "watching"
	TypeReveal         = "reveal"
	TypeEffect         = "effect"
	TypeComplete       = "complete"
	TypeRateLimited    = "rate_limited"
	TypeError          = "error"
	TypePong           = "pong"
)

// Complete mirrors the server's complete message.
type Complete struct {
	StreamID  string `json:"stream_id"`
	Status    string `json:"status"`
	Skipped   bool   `json:"skipped"`
	Truncated bool   `json:"truncated"`
	Revealed  int    `json:"revealed"`
	Total     int    `json:"total"`
}

// Reveal mirrors the server's reveal message.
type Reveal struct {
	StreamID string `json:"stream_id"`
	Snapshot struct {
		DisplayedText string `json:"displayed_text"`
		Phase         string `json:"phase"`
		Revealed      int    `json:"revealed"`
		Total         int    `json:"total"`
	} `json:"snapshot"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MessagesReceived int
	MessagesSent     int
	Reveals          int
	Effects          int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client is one simulated browser. Incoming messages are dispatched to
// handlers registered with On.
type Client struct {
	conn      net.Conn
	br        *bufio.Reader
	writeMu   sync.Mutex
	mu        sync.Mutex
	sessionID string
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	session   chan struct{}
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New dials url and starts reading in the background.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		br:       br,
		handlers: make(map[string]func(json.RawMessage)),
		session:  make(chan struct{}),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// Send writes a JSON message. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Watch asks the server to reveal streamID. A non-empty text is streamed
// by the relay under that id.
func (c *Client) Watch(streamID, text string, priority bool) error {
	return c.Send(map[string]interface{}{
		"type":      TypeWatch,
		"stream_id": streamID,
		"text":      text,
		"priority":  priority,
	})
}

// Skip reveals the rest of streamID at once.
func (c *Client) Skip(streamID string) error {
	return c.Send(map[string]string{"type": TypeSkip, "stream_id": streamID})
}

// Unwatch stops streamID without completing it.
func (c *Client) Unwatch(streamID string) error {
	return c.Send(map[string]string{"type": TypeUnwatch, "stream_id": streamID})
}

// On registers the handler for a server message type, replacing any
// previous one. Handlers run on the read loop and should not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForSession blocks until session_created arrived.
func (c *Client) WaitForSession(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before session was created")
	case <-c.session:
		return nil
	}
}

// Done is closed when the read loop ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// SessionID returns the id from session_created, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer close(c.done)

	// The handshake reader may hold the first frames and wraps the
	// connection, so keep reading through it.
	var rw io.ReadWriter = c.conn
	if c.br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{c.br, c.conn}
	}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		switch envelope.Type {
		case TypeReveal:
			c.metrics.Reveals++
		case TypeEffect:
			c.metrics.Effects++
		case TypeSessionCreated:
			if c.sessionID == "" && envelope.SessionID != "" {
				c.sessionID = envelope.SessionID
				close(c.session)
			}
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}
