package tts

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/paserver/internal/audio"
)

const mockSampleRate = 16000

// MockSynthesizer returns silent WAV clips sized to the spoken text. It keeps the
// streaming path exercisable without a synthesis server.
type MockSynthesizer struct {
	mu    sync.Mutex
	calls []Request
}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Synthesize(_ context.Context, req Request) ([]byte, bool) {
	text := Normalize(req.Text)
	if text == "" {
		return nil, false
	}
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	// Roughly 60ms of audio per spoken rune.
	d := time.Duration(utf8.RuneCountInString(text)) * 60 * time.Millisecond
	return audio.Silence(d, audio.Mono16(mockSampleRate)), true
}

// Calls returns the requests seen so far.
func (m *MockSynthesizer) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
