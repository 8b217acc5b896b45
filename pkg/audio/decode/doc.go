// ABOUTME: Audio decoder package for multiple codec support
// ABOUTME: Provides Decoder interface and implementations for MP3, FLAC, Vorbis, Opus, PCM

// Package decode provides streaming audio decoders for various codecs.
//
// Supports: MP3, FLAC, Ogg Vorbis, Ogg Opus, and raw 16-bit PCM.
//
// All decoders implement the Decoder interface, pull compressed bytes from
// an io.ReadSeeker, and output int32 samples in the 24-bit range tagged
// with their source frame position.
package decode
