package reveal

import (
	"errors"
	"testing"
)

func TestBufferAppendAndSnapshot(t *testing.T) {
	b := NewBuffer()

	b.Append("Hel")
	b.Append("lo wo")
	b.Append("rld")

	full, revealed := b.Snapshot()
	if full != "Hello world" {
		t.Fatalf("expected full text %q, got %q", "Hello world", full)
	}
	if revealed != 0 {
		t.Errorf("expected cursor 0, got %d", revealed)
	}
	if b.Len() != 11 {
		t.Errorf("expected 11 characters, got %d", b.Len())
	}
	if b.Chunks() != 3 {
		t.Errorf("expected 3 chunks, got %d", b.Chunks())
	}
}

func TestBufferAdvanceClamps(t *testing.T) {
	b := NewBuffer()
	b.Append("abcde")

	n, err := b.AdvanceCursor(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected to advance 3, got %d", n)
	}

	// Only two characters remain.
	n, err = b.AdvanceCursor(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected clamp to 2, got %d", n)
	}
	if b.Revealed() != 5 {
		t.Errorf("expected cursor at 5, got %d", b.Revealed())
	}

	n, _ = b.AdvanceCursor(1)
	if n != 0 {
		t.Errorf("expected no advance past end, got %d", n)
	}
}

func TestBufferAdvanceNegative(t *testing.T) {
	b := NewBuffer()
	b.Append("abc")
	b.AdvanceCursor(1)

	n, err := b.AdvanceCursor(-2)
	if !errors.Is(err, ErrInvalidAdvance) {
		t.Fatalf("expected ErrInvalidAdvance, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
	if b.Revealed() != 1 {
		t.Errorf("cursor moved on rejected advance: %d", b.Revealed())
	}
}

func TestBufferZeroAdvance(t *testing.T) {
	b := NewBuffer()
	b.Append("abc")

	n, err := b.AdvanceCursor(0)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
}

func TestBufferGraphemeClusters(t *testing.T) {
	b := NewBuffer()
	b.Append("a\U0001F44Db")

	if b.Len() != 3 {
		t.Fatalf("expected 3 characters, got %d", b.Len())
	}
	b.AdvanceCursor(2)
	if got := b.Displayed(); got != "a\U0001F44D" {
		t.Errorf("expected %q, got %q", "a\U0001F44D", got)
	}
}

func TestBufferClusterSplitAcrossChunks(t *testing.T) {
	b := NewBuffer()

	// "e" followed by a combining acute accent in the next chunk.
	b.Append("caf")
	b.Append("e")
	b.Append("\u0301!")

	if b.Len() != 5 {
		t.Fatalf("expected 5 characters, got %d", b.Len())
	}
	b.AdvanceCursor(4)
	if got := b.Displayed(); got != "cafe\u0301" {
		t.Errorf("expected accent kept with its base, got %q", got)
	}
}

func TestBufferEmptyChunk(t *testing.T) {
	b := NewBuffer()
	b.Append("")

	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
	if b.Chunks() != 1 {
		t.Errorf("expected empty chunk to be counted, got %d", b.Chunks())
	}
}

func TestBufferRevealAll(t *testing.T) {
	b := NewBuffer()
	b.Append("hello")
	b.AdvanceCursor(2)

	if n := b.RevealAll(); n != 3 {
		t.Errorf("expected to reveal 3, got %d", n)
	}
	if b.Remaining() != 0 {
		t.Errorf("expected nothing remaining, got %d", b.Remaining())
	}
	if b.Displayed() != "hello" {
		t.Errorf("expected %q, got %q", "hello", b.Displayed())
	}
}

func TestBufferPrefix(t *testing.T) {
	b := NewBuffer()
	b.Append("hello")

	tests := []struct {
		n    int
		want string
	}{
		{-1, ""},
		{0, ""},
		{2, "he"},
		{5, "hello"},
		{9, "hello"},
	}
	for _, tc := range tests {
		if got := b.Prefix(tc.n); got != tc.want {
			t.Errorf("Prefix(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}
