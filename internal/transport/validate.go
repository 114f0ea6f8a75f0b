package transport

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxFrameBytes  = 64 * 1024 // encoded frame limit
	MaxChunkBytes  = 32 * 1024 // text carried by one chunk
	MaxReasonBytes = 512
)

// ValidateFrame checks that a decoded frame is well formed.
func ValidateFrame(f Frame) error {
	switch f.Type {
	case FrameChunk:
		if len(f.Text) > MaxChunkBytes {
			return &FrameError{Kind: FrameErrorInvalid, Msg: fmt.Sprintf("chunk exceeds %d byte limit", MaxChunkBytes)}
		}
		if !utf8.ValidString(f.Text) {
			return &FrameError{Kind: FrameErrorInvalid, Msg: "chunk contains invalid UTF-8"}
		}
	case FrameDone:
	case FrameFailure:
		if len(f.Reason) > MaxReasonBytes {
			return &FrameError{Kind: FrameErrorInvalid, Msg: fmt.Sprintf("reason exceeds %d byte limit", MaxReasonBytes)}
		}
	case "":
		return &FrameError{Kind: FrameErrorMalformed, Msg: "frame has no type"}
	default:
		return &FrameError{Kind: FrameErrorUnknownType, Msg: fmt.Sprintf("unknown frame type %q", f.Type)}
	}
	return nil
}
