// Package audio reads and writes the WAV clips exchanged with the speech server.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var ErrNotWAV = errors.New("not a RIFF/WAVE clip")

// Format describes PCM sample layout.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Mono16 is 16-bit mono PCM at rate.
func Mono16(rate int) Format {
	return Format{SampleRate: rate, Channels: 1, BitsPerSample: 16}
}

func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Duration returns the playback length of n bytes of PCM data.
func (f Format) Duration(n int) time.Duration {
	bps := f.bytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Clip is a parsed WAV header.
type Clip struct {
	Format   Format
	DataSize int
}

func (c Clip) Duration() time.Duration { return c.Format.Duration(c.DataSize) }

// EncodePCM wraps little-endian PCM bytes in a canonical 44-byte WAV header.
func EncodePCM(pcm []byte, f Format) []byte {
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if f.BitsPerSample <= 0 {
		f.BitsPerSample = 16
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	le32(&buf, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	le32(&buf, 16)
	le16(&buf, 1) // PCM
	le16(&buf, uint16(f.Channels))
	le32(&buf, uint32(f.SampleRate))
	le32(&buf, uint32(f.bytesPerSecond()))
	le16(&buf, uint16(f.Channels*f.BitsPerSample/8))
	le16(&buf, uint16(f.BitsPerSample))
	buf.WriteString("data")
	le32(&buf, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// Silence returns a clip of d zero samples.
func Silence(d time.Duration, f Format) []byte {
	n := int(d * time.Duration(f.bytesPerSecond()) / time.Second)
	if align := f.Channels * f.BitsPerSample / 8; align > 0 {
		n -= n % align
	}
	return EncodePCM(make([]byte, n), f)
}

// Parse walks the RIFF chunks of data and returns the fmt and data layout.
// Chunks other than fmt and data are skipped.
func Parse(data []byte) (Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}
	var (
		clip    Clip
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			clip.Format = Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2:])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4:])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14:])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			// Streaming servers may leave the size unset.
			clip.DataSize = min(size, len(data)-body)
			return clip, nil
		}
		off = body + size + size%2
	}
	return Clip{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

func le16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func le32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
