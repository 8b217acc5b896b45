// ABOUTME: Decoder interface and codec dispatch
// ABOUTME: Turns compressed byte streams into positioned PCM frames
package decode

import (
	"fmt"
	"io"

	"github.com/tonearm/tonearm/pkg/audio"
	"github.com/tonearm/tonearm/pkg/media"
)

// Decoder pulls compressed bytes from its source and produces PCM frames.
// Codec state persists across Decode calls within one track. A non-EOF
// decode error is fatal for the track: the stream position is undefined
// afterwards and callers must not keep pulling frames from it.
type Decoder interface {
	// Format reports the source PCM format. Valid after construction.
	Format() audio.Format

	// Decode returns the next run of frames. io.EOF signals a clean end of
	// stream with no samples.
	Decode() (audio.Frame, error)

	// Seek repositions decoding to the given source frame index.
	Seek(frame int64) error

	// Close releases decoder resources.
	Close() error
}

// New creates a decoder for the codec reading from src. An empty codec is
// sniffed from the stream's magic bytes. Decoders require a seekable source;
// the fetch layer provides one backed by the range cache.
func New(codec media.Codec, src io.ReadSeeker) (Decoder, error) {
	if codec == "" {
		sniffed, err := sniff(src)
		if err != nil {
			return nil, err
		}
		codec = sniffed
	}
	switch codec {
	case media.CodecMP3:
		return NewMP3(src)
	case media.CodecFLAC:
		return NewFLAC(src)
	case media.CodecVorbis:
		return NewVorbis(src)
	case media.CodecOpus:
		return NewOpus(src)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", codec)
	}
}

// sniff reads the stream head, identifies the codec from its magic bytes,
// and rewinds src so the decoder sees the stream from the start.
func sniff(src io.ReadSeeker) (media.Codec, error) {
	var head [36]byte
	n, err := io.ReadFull(src, head[:])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("sniff codec: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("sniff codec: rewind: %w", err)
	}
	codec := media.SniffCodec(head[:n])
	if codec == "" {
		return "", fmt.Errorf("sniff codec: unrecognized stream header")
	}
	return codec, nil
}
