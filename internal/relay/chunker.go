// Package relay produces transport streams: it cuts text into randomly
// sized chunks and paces them onto NATS or a WebSocket, the way a model
// backend emits partial messages.
package relay

import (
	"math/rand/v2"
	"unicode/utf8"
)

// Chunker splits text into chunks of MinRunes..MaxRunes runes. Chunks never
// split a UTF-8 sequence.
type Chunker struct {
	MinRunes int
	MaxRunes int
	rng      *rand.Rand
}

// NewChunker creates a Chunker. The same seed always yields the same split.
func NewChunker(minRunes, maxRunes int, seed uint64) *Chunker {
	if minRunes < 1 {
		minRunes = 1
	}
	if maxRunes < minRunes {
		maxRunes = minRunes
	}
	return &Chunker{
		MinRunes: minRunes,
		MaxRunes: maxRunes,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Split returns the chunks of text in order. Concatenating them yields text.
func (c *Chunker) Split(text string) []string {
	var chunks []string
	for len(text) > 0 {
		n := c.MinRunes
		if c.MaxRunes > c.MinRunes {
			n += c.rng.IntN(c.MaxRunes - c.MinRunes + 1)
		}

		end := 0
		for i := 0; i < n && end < len(text); i++ {
			_, size := utf8.DecodeRuneInString(text[end:])
			end += size
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	return chunks
}

// jitter returns a duration in [base-spread, base+spread], never negative.
func (c *Chunker) jitter(base, spread int64) int64 {
	if spread <= 0 {
		return base
	}
	d := base - spread + c.rng.Int64N(2*spread+1)
	if d < 0 {
		return 0
	}
	return d
}
