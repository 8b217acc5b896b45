// ABOUTME: Tests for the raw PCM decoder
// ABOUTME: Covers decoding, position tracking, and seek
package decode

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/tonearm/tonearm/pkg/audio"
)

func pcmStream(frames int, channels int) []byte {
	buf := make([]byte, frames*channels*2)
	for i := 0; i < frames*channels; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(i)))
	}
	return buf
}

func pcmFormat() audio.Format {
	return audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 16}
}

func TestNewPCMRejectsBadFormat(t *testing.T) {
	src := bytes.NewReader(nil)

	if _, err := NewPCM(src, audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 24}); err == nil {
		t.Error("expected error for 24-bit raw pcm")
	}
	if _, err := NewPCM(src, audio.Format{SampleRate: 0, Channels: 2, BitDepth: 16}); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestPCMDecodePositionsAreMonotonic(t *testing.T) {
	src := bytes.NewReader(pcmStream(8192, 2))
	dec, err := NewPCM(src, pcmFormat())
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	var lastEnd int64
	var total int
	for {
		frame, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if frame.Pos != lastEnd {
			t.Fatalf("frame starts at %d, previous ended at %d", frame.Pos, lastEnd)
		}
		lastEnd = frame.Pos + int64(frame.FrameCount())
		total += frame.FrameCount()
	}

	if total != 8192 {
		t.Errorf("decoded %d frames, want 8192", total)
	}
}

func TestPCMSeek(t *testing.T) {
	src := bytes.NewReader(pcmStream(1000, 2))
	dec, err := NewPCM(src, pcmFormat())
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if err := dec.Seek(500); err != nil {
		t.Fatal(err)
	}

	frame, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if frame.Pos != 500 {
		t.Errorf("frame.Pos = %d, want 500", frame.Pos)
	}
	// Frame 500 of the synthetic ramp starts at sample value 1000
	want := audio.SampleFromInt16(1000)
	if frame.Samples[0] != want {
		t.Errorf("first sample = %d, want %d", frame.Samples[0], want)
	}
}

func TestPCMDecodeEOF(t *testing.T) {
	src := bytes.NewReader(nil)
	dec, err := NewPCM(src, pcmFormat())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := dec.Decode(); err != io.EOF {
		t.Errorf("Decode on empty stream = %v, want io.EOF", err)
	}
}

func TestNewUnsupportedCodec(t *testing.T) {
	if _, err := New("aac", bytes.NewReader(nil)); err == nil {
		t.Error("expected error for unsupported codec")
	}
}
