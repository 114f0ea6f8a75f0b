// Package transport carries streamed text from a producer to a reveal
// engine. Frames are decoded with a pluggable codec, validated and applied
// to an Ingestor; Sources adapt NATS, WebSocket and plain readers.
package transport

import (
	"errors"
	"fmt"
)

// FrameType discriminates transport frames.
type FrameType string

const (
	FrameChunk   FrameType = "chunk"
	FrameDone    FrameType = "done"
	FrameFailure FrameType = "error"
)

// Frame is one transport event.
type Frame struct {
	Type   FrameType `json:"type" msgpack:"type"`
	Text   string    `json:"text,omitempty" msgpack:"text,omitempty"`
	Reason string    `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Fatal  bool      `json:"fatal,omitempty" msgpack:"fatal,omitempty"`
}

// Chunk builds a chunk frame.
func Chunk(text string) Frame { return Frame{Type: FrameChunk, Text: text} }

// Done builds a termination frame.
func Done() Frame { return Frame{Type: FrameDone} }

// Failure builds an error frame.
func Failure(reason string, fatal bool) Frame {
	return Frame{Type: FrameFailure, Reason: reason, Fatal: fatal}
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorMalformed indicates bytes that do not decode as a frame.
	FrameErrorMalformed FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameBytes.
	FrameErrorTooLarge
	// FrameErrorInvalid indicates a decoded frame with bad content.
	FrameErrorInvalid
	// FrameErrorUnknownType indicates a frame type this build does not know.
	FrameErrorUnknownType
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorMalformed:
		return "malformed"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorInvalid:
		return "invalid"
	case FrameErrorUnknownType:
		return "unknown_type"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Msg, e.Err)
	}
	return "transport: " + e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the error means the stream framing is corrupt.
// Unknown frame types are skipped instead.
func (e *FrameError) IsFatal() bool {
	return e.Kind != FrameErrorUnknownType
}

// IsFatalFrameError returns true if err is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}
