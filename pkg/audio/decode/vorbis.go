// ABOUTME: Ogg Vorbis audio decoder
// ABOUTME: Decodes Vorbis streams to int32 frames via jfreymuth/oggvorbis
package decode

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
	"github.com/tonearm/tonearm/pkg/audio"
)

// VorbisDecoder decodes Ogg Vorbis audio.
type VorbisDecoder struct {
	reader *oggvorbis.Reader
	format audio.Format
	buf    []float32
}

// NewVorbis creates a Vorbis decoder reading from src.
func NewVorbis(src io.ReadSeeker) (Decoder, error) {
	reader, err := oggvorbis.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open vorbis stream: %w", err)
	}

	return &VorbisDecoder{
		reader: reader,
		format: audio.Format{
			SampleRate: reader.SampleRate(),
			Channels:   reader.Channels(),
			BitDepth:   24,
		},
		buf: make([]float32, 4096*reader.Channels()),
	}, nil
}

// Format reports the decoded PCM format.
func (d *VorbisDecoder) Format() audio.Format { return d.format }

// Decode returns the next run of frames.
func (d *VorbisDecoder) Decode() (audio.Frame, error) {
	pos := d.reader.Position()

	n, err := d.reader.Read(d.buf)
	if n == 0 {
		if err == io.EOF {
			return audio.Frame{}, io.EOF
		}
		if err != nil {
			return audio.Frame{}, fmt.Errorf("vorbis decode: %w", err)
		}
		return audio.Frame{Pos: pos, Format: d.format}, nil
	}

	samples := make([]int32, n)
	for i := 0; i < n; i++ {
		samples[i] = floatToSample(d.buf[i])
	}

	return audio.Frame{Pos: pos, Samples: samples, Format: d.format}, nil
}

// Seek repositions to the given source frame.
func (d *VorbisDecoder) Seek(frame int64) error {
	if err := d.reader.SetPosition(frame); err != nil {
		return fmt.Errorf("vorbis seek: %w", err)
	}
	return nil
}

// Length returns the total frame count of the stream.
func (d *VorbisDecoder) Length() int64 {
	return d.reader.Length()
}

// Close releases decoder resources.
func (d *VorbisDecoder) Close() error { return nil }

// floatToSample converts a [-1, 1] float sample to the 24-bit int32 range.
func floatToSample(f float32) int32 {
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	return int32(f * float32(audio.Max24Bit))
}
