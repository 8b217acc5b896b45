// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 streams to positioned int32 frames
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/tonearm/tonearm/pkg/audio"
)

// go-mp3 emits 16-bit little-endian stereo; 4 bytes per sample frame.
const mp3BytesPerFrame = 4

// MP3Decoder decodes MP3 audio.
type MP3Decoder struct {
	dec    *mp3.Decoder
	format audio.Format
	pos    int64
	buf    []byte
}

// NewMP3 creates an MP3 decoder reading from src.
func NewMP3(src io.ReadSeeker) (Decoder, error) {
	dec, err := mp3.NewDecoder(src)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	return &MP3Decoder{
		dec: dec,
		format: audio.Format{
			SampleRate: dec.SampleRate(),
			Channels:   2,
			BitDepth:   16,
		},
		buf: make([]byte, 16384),
	}, nil
}

// Format reports the decoded PCM format.
func (d *MP3Decoder) Format() audio.Format { return d.format }

// Decode returns the next run of frames.
func (d *MP3Decoder) Decode() (audio.Frame, error) {
	n, err := d.dec.Read(d.buf)
	if n == 0 {
		if err == io.EOF {
			return audio.Frame{}, io.EOF
		}
		if err != nil {
			return audio.Frame{}, fmt.Errorf("mp3 decode: %w", err)
		}
		return audio.Frame{Pos: d.pos, Format: d.format}, nil
	}

	n -= n % mp3BytesPerFrame
	samples := make([]int32, n/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(d.buf[i*2:]))
		samples[i] = audio.SampleFromInt16(s)
	}

	frame := audio.Frame{Pos: d.pos, Samples: samples, Format: d.format}
	d.pos += int64(n / mp3BytesPerFrame)
	return frame, nil
}

// Seek repositions to the given source frame.
func (d *MP3Decoder) Seek(frame int64) error {
	if _, err := d.dec.Seek(frame*mp3BytesPerFrame, io.SeekStart); err != nil {
		return fmt.Errorf("mp3 seek: %w", err)
	}
	d.pos = frame
	return nil
}

// Length returns the total decoded frame count, if the source size is known.
func (d *MP3Decoder) Length() int64 {
	return d.dec.Length() / mp3BytesPerFrame
}

// Close releases decoder resources.
func (d *MP3Decoder) Close() error { return nil }
