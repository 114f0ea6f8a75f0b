// Package protocol defines the WebSocket message types and structures used
// between a browser watching reveals and the reveal server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/reveal/internal/reveal"
)

// ---------------------------------------------------------------------------
// Message type constants
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

// Error codes carried by ErrorMsg.
const (
	CodeBadMessage    = "bad_message"
	CodeNotWatching   = "not_watching"
	CodeStreamFailed  = "stream_failed"
	CodeTooManyStream = "too_many_streams"
	CodeInternal      = "internal"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field so
// the payload can be decoded later into the matching struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// WatchMsg starts revealing a stream on this connection. Priority selects
// the faster cadence. When Text is set the server asks a relay to stream it
// under StreamID.
type WatchMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	Priority bool   `json:"priority,omitempty"`
	Text     string `json:"text,omitempty"`
}

// UnwatchMsg stops a reveal without completing it.
type UnwatchMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// SkipMsg reveals the rest of a stream at once.
type SkipMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// SoundMsg turns keystroke effects on or off for the connection.
type SoundMsg struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// WatchingMsg confirms a watch and reports the cadence in use.
type WatchingMsg struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	SpeedMs  int64  `json:"speed_ms"`
}

// RevealMsg carries the latest presentation state of a stream.
type RevealMsg struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id"`
	Snapshot reveal.Snapshot `json:"snapshot"`
}

// EffectMsg asks the browser to play side-effects.
type EffectMsg struct {
	Type     string                   `json:"type"`
	StreamID string                   `json:"stream_id"`
	Effects  []reveal.SideEffectEvent `json:"effects"`
}

// CompleteMsg is sent once when a stream's reveal completes.
type CompleteMsg struct {
	Type      string `json:"type"`
	StreamID  string `json:"stream_id"`
	Status    string `json:"status"`
	Skipped   bool   `json:"skipped"`
	Truncated bool   `json:"truncated"`
	Revealed  int    `json:"revealed"`
	Total     int    `json:"total"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeWatch:
		var m WatchMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.StreamID == "" {
			err = fmt.Errorf("missing stream_id")
		}
		msg = m
	case TypeUnwatch:
		var m UnwatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkip:
		var m SkipMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSound:
		var m SoundMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
