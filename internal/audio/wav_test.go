package audio

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	f := Mono16(16000)
	clip := Silence(500*time.Millisecond, f)
	if len(clip) != 44+16000 {
		t.Fatalf("len = %d, want %d", len(clip), 44+16000)
	}
	got, err := Parse(clip)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.Format != f || got.DataSize != 16000 {
		t.Fatalf("Parse() = %+v", got)
	}
	if d := got.Duration(); d != 500*time.Millisecond {
		t.Fatalf("Duration() = %v, want 500ms", d)
	}
}

func TestParseSkipsExtraChunks(t *testing.T) {
	clip := EncodePCM(make([]byte, 8), Mono16(8000))
	// Insert a LIST chunk between fmt and data.
	extra := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, clip[:36]...), extra...), clip[36:]...)

	got, err := Parse(withList)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.DataSize != 8 || got.Format.SampleRate != 8000 {
		t.Fatalf("Parse() = %+v", got)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string][]byte{
		"empty":      nil,
		"not riff":   []byte("RIFFdata"),
		"mp3":        []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00"),
		"no data":    EncodePCM(nil, Mono16(16000))[:36],
		"data first": []byte("RIFF\x00\x00\x00\x00WAVEdata\x00\x00\x00\x00"),
	}
	for name, data := range cases {
		if _, err := Parse(data); !errors.Is(err, ErrNotWAV) {
			t.Fatalf("%s: Parse() error = %v, want ErrNotWAV", name, err)
		}
	}
}
