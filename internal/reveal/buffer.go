package reveal

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Buffer is the append-only text of one streamed message plus the reveal
// cursor. Positions count grapheme clusters, so the cursor never splits an
// emoji or a base character from its combining marks.
//
// Buffer is not goroutine-safe; a Session owns it and the Engine loop is the
// only caller.
type Buffer struct {
	text     strings.Builder
	bounds   []int // bounds[i] is the byte offset just past cluster i
	revealed int
	chunks   int
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a chunk to the end of the buffer. Chunks are kept in arrival
// order and never modified.
func (b *Buffer) Append(chunk string) {
	b.chunks++
	if chunk == "" {
		return
	}

	// The last cluster may continue into the new chunk (a combining mark or a
	// ZWJ sequence split across frames), so resegment from its start.
	start := 0
	if n := len(b.bounds); n > 0 {
		if n > 1 {
			start = b.bounds[n-2]
		}
		b.bounds = b.bounds[:n-1]
	}

	b.text.WriteString(chunk)
	rest := b.text.String()[start:]
	off := start
	state := -1
	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		off += len(cluster)
		b.bounds = append(b.bounds, off)
	}
}

// Snapshot returns the full text received so far and the reveal cursor.
func (b *Buffer) Snapshot() (fullText string, revealed int) {
	return b.text.String(), b.revealed
}

// AdvanceCursor moves the cursor forward by up to n characters and returns
// how many it actually moved. The step is clamped to the unrevealed
// remainder. A negative n is rejected with ErrInvalidAdvance.
func (b *Buffer) AdvanceCursor(n int) (int, error) {
	if n < 0 {
		return 0, ErrInvalidAdvance
	}
	if rem := b.Remaining(); n > rem {
		n = rem
	}
	b.revealed += n
	return n, nil
}

// RevealAll moves the cursor to the end and returns the distance moved.
func (b *Buffer) RevealAll() int {
	n := b.Remaining()
	b.revealed = len(b.bounds)
	return n
}

// Len returns the number of characters received.
func (b *Buffer) Len() int {
	return len(b.bounds)
}

// Revealed returns the cursor position.
func (b *Buffer) Revealed() int {
	return b.revealed
}

// Remaining returns the number of received but unrevealed characters.
func (b *Buffer) Remaining() int {
	return len(b.bounds) - b.revealed
}

// Chunks returns how many chunks have been appended.
func (b *Buffer) Chunks() int {
	return b.chunks
}

// Displayed returns the revealed prefix of the text.
func (b *Buffer) Displayed() string {
	return b.Prefix(b.revealed)
}

// Prefix returns the first n characters of the text, clamped to the
// buffer length.
func (b *Buffer) Prefix(n int) string {
	if n <= 0 {
		return ""
	}
	if n > len(b.bounds) {
		n = len(b.bounds)
	}
	return b.text.String()[:b.bounds[n-1]]
}
