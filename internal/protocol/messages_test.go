package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/whisper/reveal/internal/reveal"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid watch message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Watch(t *testing.T) {
	input := []byte(`{"type":"watch","stream_id":"s-42","priority":true,"text":"Hello"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeWatch {
		t.Fatalf("expected type %q, got %q", TypeWatch, msgType)
	}

	wm, ok := msg.(WatchMsg)
	if !ok {
		t.Fatalf("expected WatchMsg, got %T", msg)
	}
	if wm.StreamID != "s-42" {
		t.Errorf("expected stream_id %q, got %q", "s-42", wm.StreamID)
	}
	if !wm.Priority {
		t.Error("expected priority true")
	}
	if wm.Text != "Hello" {
		t.Errorf("expected text %q, got %q", "Hello", wm.Text)
	}
}

func TestParseClientMessage_WatchWithoutStream(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"watch"}`))
	if err == nil {
		t.Fatal("expected an error for watch without stream_id")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a sound toggle
// ---------------------------------------------------------------------------

func TestParseClientMessage_Sound(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"sound","enabled":false}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm, ok := msg.(SoundMsg)
	if !ok {
		t.Fatalf("expected SoundMsg, got %T", msg)
	}
	if sm.Enabled {
		t.Error("expected enabled false")
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a reveal server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_Reveal(t *testing.T) {
	payload := RevealMsg{
		StreamID: "s-1",
		Snapshot: reveal.Snapshot{
			DisplayedText: "Hel",
			FullText:      "Hello",
			Phase:         reveal.PhaseStreaming,
			CanSkip:       true,
			Revealed:      3,
			Total:         5,
		},
	}

	data, err := NewServerMessage(TypeReveal, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeReveal {
		t.Errorf("expected type %q, got %v", TypeReveal, result["type"])
	}

	snap, ok := result["snapshot"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected snapshot object, got %T", result["snapshot"])
	}
	if snap["phase"] != "streaming" {
		t.Errorf("expected phase by name, got %v", snap["phase"])
	}
	if snap["displayed_text"] != "Hel" {
		t.Errorf("expected displayed_text %q, got %v", "Hel", snap["displayed_text"])
	}
	if snap["can_skip"] != true {
		t.Errorf("expected can_skip true, got %v", snap["can_skip"])
	}
}

func TestNewServerMessage_Effect(t *testing.T) {
	payload := EffectMsg{
		StreamID: "s-1",
		Effects: []reveal.SideEffectEvent{
			{Effect: reveal.EffectKeystroke, Position: 3},
			{Effect: reveal.EffectKeystroke, Position: 6, Delay: 30 * time.Millisecond},
		},
	}

	data, err := NewServerMessage(TypeEffect, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded EffectMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeEffect {
		t.Errorf("type mismatch: expected %q, got %q", TypeEffect, decoded.Type)
	}
	if len(decoded.Effects) != 2 {
		t.Fatalf("expected 2 effects, got %d", len(decoded.Effects))
	}
	if decoded.Effects[1].Position != 6 || decoded.Effects[1].Delay != 30*time.Millisecond {
		t.Errorf("unexpected second effect: %+v", decoded.Effects[1])
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

func TestParseClientMessage_ServerTypeRejected(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"reveal","stream_id":"x"}`)); err == nil {
		t.Fatal("expected server-only type to be rejected")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"watch", `{"type":"watch","stream_id":"s1"}`, TypeWatch},
		{"unwatch", `{"type":"unwatch","stream_id":"s1"}`, TypeUnwatch},
		{"skip", `{"type":"skip","stream_id":"s1"}`, TypeSkip},
		{"sound", `{"type":"sound","enabled":true}`, TypeSound},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
