// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC streams frame by frame to int32 samples
package decode

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/tonearm/tonearm/pkg/audio"
)

// FLACDecoder decodes FLAC audio.
type FLACDecoder struct {
	stream *flac.Stream
	format audio.Format
	shift  uint // left-justify samples into the 24-bit range
	pos    int64
}

// NewFLAC creates a FLAC decoder reading from src.
func NewFLAC(src io.ReadSeeker) (Decoder, error) {
	stream, err := flac.NewSeek(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse flac stream: %w", err)
	}

	info := stream.Info
	var shift uint
	if info.BitsPerSample < 24 {
		shift = uint(24 - info.BitsPerSample)
	}

	return &FLACDecoder{
		stream: stream,
		format: audio.Format{
			SampleRate: int(info.SampleRate),
			Channels:   int(info.NChannels),
			BitDepth:   int(info.BitsPerSample),
		},
		shift: shift,
	}, nil
}

// Format reports the decoded PCM format.
func (d *FLACDecoder) Format() audio.Format { return d.format }

// Decode parses the next FLAC frame and interleaves its subframes.
func (d *FLACDecoder) Decode() (audio.Frame, error) {
	fr, err := d.stream.ParseNext()
	if err == io.EOF {
		return audio.Frame{}, io.EOF
	}
	if err != nil {
		return audio.Frame{}, fmt.Errorf("flac decode: %w", err)
	}

	channels := len(fr.Subframes)
	blockSize := len(fr.Subframes[0].Samples)

	samples := make([]int32, blockSize*channels)
	for c, sub := range fr.Subframes {
		for i, s := range sub.Samples {
			samples[i*channels+c] = s << d.shift
		}
	}

	frame := audio.Frame{Pos: d.pos, Samples: samples, Format: d.format}
	d.pos += int64(blockSize)
	return frame, nil
}

// Seek repositions to the nearest seekable frame at or before the target.
func (d *FLACDecoder) Seek(frame int64) error {
	actual, err := d.stream.Seek(uint64(frame))
	if err != nil {
		return fmt.Errorf("flac seek: %w", err)
	}
	d.pos = int64(actual)
	return nil
}

// Length returns the total frame count declared by the stream info block.
func (d *FLACDecoder) Length() int64 {
	return int64(d.stream.Info.NSamples)
}

// Close releases decoder resources.
func (d *FLACDecoder) Close() error {
	return d.stream.Close()
}
