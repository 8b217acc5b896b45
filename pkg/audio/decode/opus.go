// ABOUTME: Ogg Opus audio decoder
// ABOUTME: Decodes Opus streams to int32 frames via libopusfile bindings
package decode

import (
	"fmt"
	"io"

	"github.com/tonearm/tonearm/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// opusfile always decodes at 48 kHz; the catalog serves stereo opus.
const (
	opusSampleRate = 48000
	opusChannels   = 2
)

// OpusDecoder decodes Ogg-framed Opus audio.
type OpusDecoder struct {
	src    io.ReadSeeker
	stream *opus.Stream
	format audio.Format
	pos    int64
	buf    []int16
}

// NewOpus creates an Opus decoder reading from src.
func NewOpus(src io.ReadSeeker) (Decoder, error) {
	stream, err := opus.NewStream(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open opus stream: %w", err)
	}

	return &OpusDecoder{
		src:    src,
		stream: stream,
		format: audio.Format{
			SampleRate: opusSampleRate,
			Channels:   opusChannels,
			BitDepth:   16,
		},
		buf: make([]int16, 5760*opusChannels), // max opus frame size
	}, nil
}

// Format reports the decoded PCM format.
func (d *OpusDecoder) Format() audio.Format { return d.format }

// Decode returns the next run of frames.
func (d *OpusDecoder) Decode() (audio.Frame, error) {
	n, err := d.stream.Read(d.buf)
	if n == 0 {
		if err == io.EOF || err == nil {
			return audio.Frame{}, io.EOF
		}
		return audio.Frame{}, fmt.Errorf("opus decode: %w", err)
	}

	total := n * opusChannels
	samples := make([]int32, total)
	for i := 0; i < total; i++ {
		samples[i] = audio.SampleFromInt16(d.buf[i])
	}

	frame := audio.Frame{Pos: d.pos, Samples: samples, Format: d.format}
	d.pos += int64(n)
	return frame, nil
}

// Seek repositions to the given source frame. libopusfile cannot seek an
// arbitrary io.Reader, so the stream is reopened from the start and decoded
// forward to the target.
func (d *OpusDecoder) Seek(frame int64) error {
	if _, err := d.src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("opus seek: rewind source: %w", err)
	}

	stream, err := opus.NewStream(d.src)
	if err != nil {
		return fmt.Errorf("opus seek: reopen stream: %w", err)
	}
	d.stream.Close()
	d.stream = stream
	d.pos = 0

	for d.pos < frame {
		n, err := d.stream.Read(d.buf)
		if n == 0 {
			if err == io.EOF || err == nil {
				break
			}
			return fmt.Errorf("opus seek: skip to %d: %w", frame, err)
		}
		d.pos += int64(n)
	}
	return nil
}

// Close releases decoder resources.
func (d *OpusDecoder) Close() error {
	return d.stream.Close()
}
