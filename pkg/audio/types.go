// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, PCM frames, and sample conversions
package audio

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes a PCM stream format.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerFrame returns the size of one interleaved sample frame.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// Frame is a run of decoded interleaved PCM samples tagged with its source
// position. Pos is the index of the first sample frame at the source sample
// rate and increases monotonically within a track; after a seek it jumps,
// which is how downstream stages detect the discontinuity.
type Frame struct {
	Pos     int64
	Samples []int32 // interleaved, int32 to carry both 16-bit and 24-bit
	Format  Format
}

// FrameCount returns the number of sample frames (samples per channel).
func (f Frame) FrameCount() int {
	if f.Format.Channels == 0 {
		return 0
	}
	return len(f.Samples) / f.Format.Channels
}

// SampleToInt16 converts an int32 sample to int16 (for 16-bit playback).
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit (or 16-bit) to 16-bit range
	return int16(sample >> 8)
}

// SampleFromInt16 converts an int16 sample to int32 (left-justified in 24-bit).
func SampleFromInt16(sample int16) int32 {
	// Left-shift to position 16-bit value in upper bits
	return int32(sample) << 8
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian).
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian).
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
