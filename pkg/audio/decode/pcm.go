// ABOUTME: Raw PCM decoder
// ABOUTME: Decodes headerless 16-bit little-endian PCM, used for tests and raw streams
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tonearm/tonearm/pkg/audio"
)

// PCMDecoder decodes raw 16-bit little-endian interleaved PCM. The format
// must be supplied by the caller since raw streams carry no header.
type PCMDecoder struct {
	src    io.ReadSeeker
	format audio.Format
	pos    int64
	buf    []byte
}

// NewPCM creates a raw PCM decoder with the given stream format.
func NewPCM(src io.ReadSeeker, format audio.Format) (Decoder, error) {
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported pcm bit depth: %d", format.BitDepth)
	}
	if format.Channels < 1 || format.SampleRate < 1 {
		return nil, fmt.Errorf("invalid pcm format: %+v", format)
	}
	return &PCMDecoder{
		src:    src,
		format: format,
		buf:    make([]byte, 8192),
	}, nil
}

// Format reports the decoded PCM format.
func (d *PCMDecoder) Format() audio.Format { return d.format }

// Decode returns the next run of frames.
func (d *PCMDecoder) Decode() (audio.Frame, error) {
	n, err := io.ReadFull(d.src, d.buf)
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return audio.Frame{}, io.EOF
		}
		return audio.Frame{}, fmt.Errorf("pcm read: %w", err)
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return audio.Frame{}, fmt.Errorf("pcm read: %w", err)
	}

	bytesPerFrame := d.format.BytesPerFrame()
	n -= n % bytesPerFrame

	samples := make([]int32, n/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(d.buf[i*2:]))
		samples[i] = audio.SampleFromInt16(s)
	}

	frame := audio.Frame{Pos: d.pos, Samples: samples, Format: d.format}
	d.pos += int64(n / bytesPerFrame)
	return frame, nil
}

// Seek repositions to the given source frame.
func (d *PCMDecoder) Seek(frame int64) error {
	off := frame * int64(d.format.BytesPerFrame())
	if _, err := d.src.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("pcm seek: %w", err)
	}
	d.pos = frame
	return nil
}

// Close releases decoder resources.
func (d *PCMDecoder) Close() error { return nil }
