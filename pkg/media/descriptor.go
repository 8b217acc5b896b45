// ABOUTME: StreamDescriptor and codec types
// ABOUTME: Time-limited pointer to one encoded media resource
package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Codec identifies the compressed audio format of a stream.
type Codec string

const (
	CodecMP3    Codec = "mp3"
	CodecFLAC   Codec = "flac"
	CodecVorbis Codec = "vorbis"
	CodecOpus   Codec = "opus"
	CodecPCM    Codec = "pcm"
	CodecAAC    Codec = "aac"
)

// QualityScore ranks codecs for format selection (higher is better).
func (c Codec) QualityScore() int {
	switch c {
	case CodecFLAC:
		return 5
	case CodecOpus:
		return 4
	case CodecVorbis:
		return 3
	case CodecAAC:
		return 2
	case CodecMP3:
		return 1
	default:
		return 0
	}
}

// SniffCodec detects a codec from the leading magic bytes of a stream.
// Used when the descriptor carries no usable codec hint.
func SniffCodec(data []byte) Codec {
	if len(data) < 4 {
		return ""
	}
	switch {
	case string(data[:4]) == "fLaC":
		return CodecFLAC
	case string(data[:4]) == "OggS":
		// Vorbis and Opus share the Ogg container; the first page's
		// payload starts with the codec's identification header.
		if len(data) >= 36 && string(data[28:36]) == "OpusHead" {
			return CodecOpus
		}
		return CodecVorbis
	case string(data[:3]) == "ID3":
		return CodecMP3
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return CodecMP3
	default:
		return ""
	}
}

// StreamDescriptor is a time-limited, codec-specific media locator produced
// by the resolver for one playback attempt. It must never be used past
// ExpiresAt, even when cached bytes exist for the same track.
type StreamDescriptor struct {
	// URL is the deciphered, directly fetchable locator.
	URL string
	// Codec of the encoded stream.
	Codec Codec
	// Bitrate declared by the catalog, in bits per second. Zero if unknown.
	Bitrate int
	// Length of the resource in bytes. Zero if unknown.
	Length int64
	// ExpiresAt is the upstream-declared expiry of the locator.
	ExpiresAt time.Time
}

// Expired reports whether the locator is stale at the given instant.
func (d StreamDescriptor) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// Fingerprint returns a stable cache identity for the descriptor. It hashes
// what identifies the encoded resource (track, codec, bitrate, length) and
// deliberately excludes the URL, which changes on every re-resolution while
// pointing at the same bytes.
func (d StreamDescriptor) Fingerprint(trackID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d", trackID, d.Codec, d.Bitrate, d.Length)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
