package stream

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinDeltas is the number of buffered deltas that must be exceeded before a
// sentence-terminated buffer is released.
const DefaultMinDeltas = 15

// ChunkBuffer accumulates model deltas into sentence-sized spans for synthesis.
//
// Readiness is judged on the buffer as it stood before the delta being fed, so a
// chunk boundary always lands one delta after the punctuation that completed it.
type ChunkBuffer struct {
	minDeltas  int
	buf        strings.Builder
	deltaCount int
}

func NewChunkBuffer(minDeltas int) *ChunkBuffer {
	if minDeltas <= 0 {
		minDeltas = DefaultMinDeltas
	}
	return &ChunkBuffer{minDeltas: minDeltas}
}

// Feed appends delta and returns the previous buffer when it was ready.
func (b *ChunkBuffer) Feed(delta string) (string, bool) {
	var (
		ready string
		ok    bool
	)
	if b.deltaCount > b.minDeltas && endsSentence(b.buf.String()) {
		ready = b.buf.String()
		ok = true
		b.Reset()
	}
	b.buf.WriteString(delta)
	b.deltaCount++
	return ready, ok
}

// Flush returns whatever is left and empties the buffer.
func (b *ChunkBuffer) Flush() (string, bool) {
	rest := b.buf.String()
	b.Reset()
	if rest == "" {
		return "", false
	}
	return rest, true
}

func (b *ChunkBuffer) Pending() string { return b.buf.String() }

func (b *ChunkBuffer) Count() int { return b.deltaCount }

func (b *ChunkBuffer) Reset() {
	b.buf.Reset()
	b.deltaCount = 0
}

func endsSentence(s string) bool {
	r, size := utf8.DecodeLastRuneInString(s)
	if size == 0 {
		return false
	}
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	default:
		return false
	}
}
